package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"qms/doctor-queue/internal/hub"
	"qms/doctor-queue/internal/models"
	"qms/doctor-queue/internal/queue"
)

type fakeSession struct {
	inbox chan string
	mu    sync.Mutex
	sent  []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{inbox: make(chan string, 8)}
}

func (s *fakeSession) Recv() (string, error) {
	msg, ok := <-s.inbox
	if !ok {
		return "", errors.New("session closed")
	}
	return msg, nil
}

func (s *fakeSession) Send(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSession) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func startSession(t *testing.T, h *hub.Hub, snapshots SnapshotReader) (*fakeSession, <-chan struct{}) {
	t.Helper()
	sess := newFakeSession()
	done := make(chan struct{})
	go func() {
		defer close(done)
		serveSession(sess, h, snapshots, zap.NewNop())
	}()
	return sess, done
}

func TestSubscribeSendsSnapshotThenUpdates(t *testing.T) {
	engine := queue.NewEngine(queue.Options{Now: func() time.Time { return slot(10, 0) }})
	_, err := engine.Enqueue(context.Background(), models.Appointment{
		AppointmentID: apptA, DoctorID: doctorID, SlotDate: day, SlotTime: slot(10, 0), PatientName: "Sari",
	})
	require.NoError(t, err)

	h := hub.New(nil)
	sess, done := startSession(t, h, engine)

	sess.inbox <- `{"action":"subscribe"}`
	sess.inbox <- `{"action":"subscribe","doctor_id":"doc-1","date":"` + day + `"}`
	sess.inbox <- `{"action":"subscribe","doctor_id":"` + doctorID + `","date":"` + day + `"}`

	require.Eventually(t, func() bool { return len(sess.Sent()) == 1 }, time.Second, 5*time.Millisecond)
	var envelope struct {
		Type    string               `json:"type"`
		Payload models.QueueSnapshot `json:"payload"`
	}
	require.NoError(t, json.Unmarshal([]byte(sess.Sent()[0]), &envelope))
	assert.Equal(t, "queue-snapshot", envelope.Type)
	assert.Equal(t, uint64(1), envelope.Payload.Version)
	require.Len(t, envelope.Payload.Entries, 1)
	assert.Equal(t, apptA, envelope.Payload.Entries[0].AppointmentID)

	key := hub.Subscription{DoctorID: doctorID, Date: day}
	assert.Equal(t, 0, h.Broadcast([]byte("stale"), key, 1))
	assert.Equal(t, 1, h.Broadcast([]byte("v2"), key, 2))
	require.Eventually(t, func() bool { return len(sess.Sent()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "v2", sess.Sent()[1])

	sess.inbox <- `{"action":"unsubscribe"}`
	version := uint64(2)
	require.Eventually(t, func() bool {
		version++
		return h.Broadcast([]byte("after unsubscribe"), key, version) == 0
	}, time.Second, 5*time.Millisecond)

	close(sess.inbox)
	<-done
	assert.Equal(t, 0, h.Len())
}

func TestSubscribeWithoutDoctorIsIgnored(t *testing.T) {
	engine := queue.NewEngine(queue.Options{Now: func() time.Time { return slot(10, 0) }})
	h := hub.New(nil)
	sess, done := startSession(t, h, engine)

	sess.inbox <- `{"action":"subscribe","date":"` + day + `"}`
	sess.inbox <- `not json`
	close(sess.inbox)
	<-done

	assert.Empty(t, sess.Sent())
}

func TestSubscribeWithoutDateSkipsSnapshot(t *testing.T) {
	engine := queue.NewEngine(queue.Options{Now: func() time.Time { return slot(10, 0) }})
	h := hub.New(nil)
	sess, done := startSession(t, h, engine)

	sess.inbox <- `{"action":"subscribe","doctor_id":"` + doctorID + `"}`
	require.Eventually(t, func() bool {
		return h.Broadcast([]byte("any day"), hub.Subscription{DoctorID: doctorID, Date: "2026-03-03"}, 1) == 1
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(sess.Sent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "any day", sess.Sent()[0])

	close(sess.inbox)
	<-done
}
