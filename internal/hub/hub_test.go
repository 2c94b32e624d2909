package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastMatchesSubscription(t *testing.T) {
	h := New(nil)
	today := &Client{ID: "c1", Send: make(chan []byte, 1), Subscription: Subscription{DoctorID: "doc-1", Date: "2026-03-02"}}
	allDays := &Client{ID: "c2", Send: make(chan []byte, 1), Subscription: Subscription{DoctorID: "doc-1"}}
	other := &Client{ID: "c3", Send: make(chan []byte, 1), Subscription: Subscription{DoctorID: "doc-2"}}
	idle := &Client{ID: "c4", Send: make(chan []byte, 1)}
	for _, c := range []*Client{today, allDays, other, idle} {
		h.Register(c)
	}

	delivered := h.Broadcast([]byte("x"), Subscription{DoctorID: "doc-1", Date: "2026-03-02"}, 1)
	assert.Equal(t, 2, delivered)
	assert.Len(t, today.Send, 1)
	assert.Len(t, allDays.Send, 1)
	assert.Empty(t, other.Send)
	assert.Empty(t, idle.Send)
}

func TestBroadcastDropsForFullClient(t *testing.T) {
	h := New(nil)
	c := &Client{ID: "c1", Send: make(chan []byte, 1), Subscription: Subscription{DoctorID: "doc-1"}}
	h.Register(c)

	assert.Equal(t, 1, h.Broadcast([]byte("a"), Subscription{DoctorID: "doc-1"}, 1))
	assert.Equal(t, 0, h.Broadcast([]byte("b"), Subscription{DoctorID: "doc-1"}, 2))
	assert.Equal(t, "a", string(<-c.Send))
	assert.Equal(t, 1, h.Broadcast([]byte("c"), Subscription{DoctorID: "doc-1"}, 3))
}

func TestStaleVersionsAreSkipped(t *testing.T) {
	h := New(nil)
	key := Subscription{DoctorID: "doc-1", Date: "2026-03-02"}
	c := &Client{ID: "c1", Send: make(chan []byte, 8), Subscription: key}
	h.Register(c)

	assert.Equal(t, 1, h.Broadcast([]byte("v5"), key, 5))
	assert.False(t, h.Deliver(c, []byte("snapshot v4"), key, 4))
	assert.False(t, h.Deliver(c, []byte("snapshot v5"), key, 5))
	assert.True(t, h.Deliver(c, []byte("snapshot v6"), key, 6))
	assert.Equal(t, 0, h.Broadcast([]byte("v6"), key, 6))
	assert.Equal(t, 1, h.Broadcast([]byte("v7"), key, 7))

	other := Subscription{DoctorID: "doc-1", Date: "2026-03-03"}
	c.Subscription = Subscription{DoctorID: "doc-1"}
	assert.Equal(t, 1, h.Broadcast([]byte("next day v1"), other, 1))

	h.UpdateSubscription(c, key)
	assert.True(t, h.Deliver(c, []byte("snapshot v7"), key, 7))

	var got []string
	for len(c.Send) > 0 {
		got = append(got, string(<-c.Send))
	}
	assert.Equal(t, []string{"v5", "snapshot v6", "v7", "next day v1", "snapshot v7"}, got)
}

func TestDeliverToUnregisteredClient(t *testing.T) {
	h := New(nil)
	c := &Client{ID: "c1", Send: make(chan []byte, 1)}
	assert.False(t, h.Deliver(c, []byte("x"), Subscription{DoctorID: "doc-1"}, 1))
}

func TestUnregisterClosesOnce(t *testing.T) {
	h := New(nil)
	c := &Client{ID: "c1", Send: make(chan []byte, 1)}
	h.Register(c)
	require.Equal(t, 1, h.Len())

	h.Unregister(c)
	h.Unregister(c)
	_, open := <-c.Send
	assert.False(t, open)
	assert.Equal(t, 0, h.Len())
}

func TestParseSubscribe(t *testing.T) {
	cases := []struct {
		name string
		data string
		ok   bool
	}{
		{"subscribe", `{"action":"subscribe","doctor_id":"11111111-1111-1111-1111-111111111111","date":"2026-03-02"}`, true},
		{"all days", `{"action":"subscribe","doctor_id":"11111111-1111-1111-1111-111111111111"}`, true},
		{"unsubscribe", `{"action":"unsubscribe"}`, true},
		{"missing doctor", `{"action":"subscribe"}`, false},
		{"doctor not a uuid", `{"action":"subscribe","doctor_id":"doc-1"}`, false},
		{"bad date", `{"action":"subscribe","doctor_id":"11111111-1111-1111-1111-111111111111","date":"02/03/2026"}`, false},
		{"unknown action", `{"action":"ping","doctor_id":"11111111-1111-1111-1111-111111111111"}`, false},
		{"invalid json", `{`, false},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := ParseSubscribe([]byte(tt.data))
			assert.Equal(t, tt.ok, ok)
		})
	}
}
