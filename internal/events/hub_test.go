package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubRecentAfterID(t *testing.T) {
	h := NewHub(8)
	h.Publish("a", nil)
	h.Publish("b", map[string]string{"k": "v"})
	h.Publish("c", nil)

	all := h.Recent(0)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].Type)
	assert.Equal(t, int64(1), all[0].ID)

	after := h.Recent(all[1].ID)
	require.Len(t, after, 1)
	assert.Equal(t, "c", after[0].Type)
}

func TestHubRingOverwritesOldest(t *testing.T) {
	h := NewHub(2)
	h.Publish("a", nil)
	h.Publish("b", nil)
	h.Publish("c", nil)

	recent := h.Recent(0)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].Type)
	assert.Equal(t, "c", recent[1].Type)
}

func TestHubSubscribeReceivesAndCancelCloses(t *testing.T) {
	h := NewHub(8)
	ch, cancel := h.Subscribe()

	h.Publish("tick", nil)
	select {
	case ev := <-ch:
		assert.Equal(t, "tick", ev.Type)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestHubSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	h := NewHub(8)
	_, cancel := h.Subscribe()
	defer cancel()

	// Channel capacity is 128; overflow must drop, not deadlock.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 300; i++ {
			h.Publish("flood", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
