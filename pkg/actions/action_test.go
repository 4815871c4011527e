package actions

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitType(t *testing.T) {
	tests := []struct {
		in     string
		domain string
		verb   string
	}{
		{"meal/create", "meal", "create"},
		{"workout/toggle", "workout", "toggle"},
		{"bogus", "bogus", ""},
		{"a/b/c", "a", "b/c"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			domain, verb := SplitType(tt.in)
			assert.Equal(t, tt.domain, domain)
			assert.Equal(t, tt.verb, verb)
		})
	}
}

func TestQueuedAction_DomainVerb(t *testing.T) {
	a := QueuedAction{Type: Type("widget", VerbCreate)}
	assert.Equal(t, "widget/create", a.Type)
	assert.Equal(t, "widget", a.Domain())
	assert.Equal(t, "create", a.Verb())
}

func TestMetadata_Apply(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := Metadata{RetryCount: 1, Error: "old", CorrelationID: "tmp-1"}

	retry := 2
	msg := "new"
	failed := true
	got := m.Apply(MetadataPatch{RetryCount: &retry, LastAttemptAt: &now, Error: &msg, Failed: &failed})

	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, "new", got.Error)
	assert.True(t, got.Failed)
	require.NotNil(t, got.LastAttemptAt)
	assert.True(t, now.Equal(*got.LastAttemptAt))
	assert.Equal(t, "tmp-1", got.CorrelationID, "untouched fields are kept")

	// The original is not modified.
	assert.Equal(t, 1, m.RetryCount)
	assert.Nil(t, m.LastAttemptAt)
}

func TestQueuedAction_CloneIsDeep(t *testing.T) {
	now := time.Now()
	a := QueuedAction{
		ID:       "a",
		Payload:  json.RawMessage(`{"name":"a"}`),
		Metadata: Metadata{LastAttemptAt: &now},
	}

	c := a.Clone()
	c.Payload[2] = 'X'
	*c.Metadata.LastAttemptAt = now.Add(time.Hour)

	assert.Equal(t, `{"name":"a"}`, string(a.Payload))
	assert.True(t, now.Equal(*a.Metadata.LastAttemptAt))
}
