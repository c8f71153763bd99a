package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-backend/internal/cache"
	"crm-backend/internal/models"
)

func TestHubRoomLifecycle(t *testing.T) {
	log, _ := test.NewNullLogger()
	src := NewMemorySource()
	sub := NewSubscriber(src, log)
	qc := cache.NewQueryClient(cache.NewStore(), cache.Options{}, log)

	hub := NewHub(sub, func(ws string) []Watch {
		return []Watch{
			{Topic: WorkspaceTopic("leads", ws), Binding: Invalidate(qc, cache.NewKey("leads", ws))},
			{Topic: WorkspaceTopic("conversations", ws), Binding: Invalidate(qc, cache.NewKey("conversations", ws))},
		}
	}, log)
	hub.Attach(qc)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = hub.Serve(r.Context(), "u1", r.URL.Query().Get("ws"), ws)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?ws=ws1"
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.Rooms() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, src.OpenChannels())

	hub.Forward(models.Toast{Level: models.ToastSuccess, Title: "Saved", Message: "Lead created", WorkspaceID: "ws1"})
	require.NoError(t, src.Publish(context.Background(), ChangeEvent{Type: Insert, Table: "leads", WorkspaceID: "ws1"}))

	var got []Message
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(got) < 2 {
		_, data, err := client.ReadMessage()
		require.NoError(t, err)
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		got = append(got, msg)
	}
	assert.Equal(t, "toast", got[0].Type)
	assert.Equal(t, "Lead created", got[0].Toast.Message)
	assert.Equal(t, "invalidate", got[1].Type)
	assert.Equal(t, []string{"leads", "ws1"}, got[1].Key)

	require.NoError(t, client.Close())
	require.Eventually(t, func() bool { return hub.Rooms() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, src.OpenChannels())
}
