package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyHasPrefix(t *testing.T) {
	jobs := NewKey("jobs", "ws1")
	filtered := NewKey("jobs", "ws1", "tags=a,b")

	assert.True(t, filtered.HasPrefix(jobs))
	assert.True(t, jobs.HasPrefix(jobs))
	assert.False(t, jobs.HasPrefix(filtered))
	assert.False(t, NewKey("jobs", "ws10").HasPrefix(jobs))
	assert.Equal(t, "jobs", filtered.Resource())
}

func TestKeyStringRoundTrip(t *testing.T) {
	k := NewKey("messages", "c1", `odd"value,]`)
	parsed, err := ParseKey(k.String())
	require.NoError(t, err)
	assert.True(t, parsed.Equal(k))

	_, err = ParseKey("[]")
	assert.Error(t, err)
}

func TestStringPrefixMatchesOnlyChildren(t *testing.T) {
	prefix := stringPrefix(NewKey("jobs", "ws"))
	assert.True(t, strings.HasPrefix(NewKey("jobs", "ws", "x").String(), prefix))
	assert.True(t, strings.HasPrefix(NewKey("jobs", "ws").String(), prefix))
	assert.False(t, strings.HasPrefix(NewKey("jobs", "ws2").String(), prefix))
}
