package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicStringRoundTrip(t *testing.T) {
	topic := Topic{Table: "messages", Column: "conversation_id", Value: "c1"}
	assert.Equal(t, "messages:conversation_id=eq.c1", topic.String())

	parsed, err := ParseTopic(topic.String())
	require.NoError(t, err)
	assert.Equal(t, topic, parsed)

	parsed, err = ParseTopic("leads")
	require.NoError(t, err)
	assert.Equal(t, TableTopic("leads"), parsed)

	_, err = ParseTopic("leads:stage>3")
	assert.Error(t, err)
}

func TestTopicMatches(t *testing.T) {
	ev := ChangeEvent{
		Type:        Insert,
		Table:       "messages",
		WorkspaceID: "ws1",
		New:         json.RawMessage(`{"id":"m1","conversation_id":"c1","workspace_id":"ws1"}`),
	}
	assert.True(t, TableTopic("messages").Matches(ev))
	assert.True(t, TableTopic(AllTables).Matches(ev))
	assert.True(t, WorkspaceTopic("messages", "ws1").Matches(ev))
	assert.False(t, WorkspaceTopic("messages", "ws2").Matches(ev))
	assert.True(t, Topic{Table: "messages", Column: "conversation_id", Value: "c1"}.Matches(ev))
	assert.False(t, Topic{Table: "messages", Column: "conversation_id", Value: "c2"}.Matches(ev))
	assert.False(t, TableTopic("leads").Matches(ev))

	del := ChangeEvent{Type: Delete, Table: "messages", Old: json.RawMessage(`{"id":"m1","conversation_id":"c1"}`)}
	assert.True(t, Topic{Table: "messages", Column: "conversation_id", Value: "c1"}.Matches(del))
}

func TestRoutingAndBindingKeys(t *testing.T) {
	assert.Equal(t, "leads.ws1", RoutingKey(ChangeEvent{Table: "leads", WorkspaceID: "ws1"}))
	assert.Equal(t, "leads.ws1", WorkspaceTopic("leads", "ws1").bindingKey())
	assert.Equal(t, "messages.*", Topic{Table: "messages", Column: "conversation_id", Value: "c1"}.bindingKey())
	assert.Equal(t, "*.*", TableTopic(AllTables).bindingKey())
}
