package notify

import (
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookline/hookline/internal/domain"
)

func sampleEvent() domain.Event {
	e := domain.NewEvent("GET", "https://api.example.com/users", 500)
	e.Duration = 230 * time.Millisecond
	e.CreatedAt = time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	return e
}

func TestNewRenderer_LoadsAllTemplates(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	assert.NotNil(t, r)
}

func TestRenderer_SingleEvent(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	subject, body, err := r.Render(domain.DestinationTypeWebhook, []domain.Event{sampleEvent()})
	require.NoError(t, err)

	assert.Equal(t, "[Traffic Alert] GET https://api.example.com/users → 500", subject)
	assert.Contains(t, body, "GET https://api.example.com/users")
	assert.Contains(t, body, "Status: 500")
}

func TestRenderer_SingleEventWithError(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	e := sampleEvent()
	e.Error = "connection reset by peer"

	subject, body, err := r.Render(domain.DestinationTypeWebhook, []domain.Event{e})
	require.NoError(t, err)

	assert.Equal(t, "[Traffic Alert] GET https://api.example.com/users failed", subject)
	assert.Contains(t, body, "connection reset by peer")
}

func TestRenderer_Batch(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	events := []domain.Event{
		domain.NewEvent("GET", "https://api.example.com/a", 500),
		domain.NewEvent("POST", "https://api.example.com/b", 502),
		domain.NewEvent("GET", "https://api.example.com/c", 429),
	}

	subject, body, err := r.Render(domain.DestinationTypeWebhook, events)
	require.NoError(t, err)

	assert.Equal(t, "[Traffic Alert] 3 matched exchanges", subject)
	assert.Contains(t, body, "3 matched exchanges")
	for _, e := range events {
		assert.Contains(t, body, e.TargetURI)
	}
}

func TestRenderer_AllDestinationTypes(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	types := []domain.DestinationType{
		domain.DestinationTypeWebhook,
		domain.DestinationTypeDiscord,
		domain.DestinationTypeTelegram,
	}

	events := []domain.Event{sampleEvent()}
	batch := []domain.Event{sampleEvent(), sampleEvent()}

	for _, destType := range types {
		_, body, err := r.Render(destType, events)
		require.NoError(t, err, "single event for %s", destType)
		assert.NotEmpty(t, body)

		_, body, err = r.Render(destType, batch)
		require.NoError(t, err, "batch for %s", destType)
		assert.NotEmpty(t, body)
	}
}

func TestRenderer_Metadata(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	e := sampleEvent()
	e.Metadata = map[string]string{"rule": "errors-5xx"}

	_, body, err := r.Render(domain.DestinationTypeWebhook, []domain.Event{e})
	require.NoError(t, err)
	assert.Contains(t, body, "errors-5xx")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		in    string
		want  string
	}{
		{name: "under limit", limit: 10, in: "short", want: "short"},
		{name: "at limit", limit: 5, in: "exact", want: "exact"},
		{name: "over limit", limit: 5, in: "overflowing", want: "overf…"},
		{name: "cut inside rune", limit: 4, in: "ab日本", want: "ab…"},
		{name: "multi-byte only", limit: 5, in: "日本語です", want: "日…"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.limit, tt.in)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestRenderer_NoEvents(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	_, _, err = r.Render(domain.DestinationTypeWebhook, nil)
	assert.Error(t, err)
}

func TestRenderer_UnknownDestinationType(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	_, _, err = r.Render(domain.DestinationType("pager"), []domain.Event{sampleEvent()})
	assert.Error(t, err)
}
