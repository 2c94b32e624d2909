package store

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func chain(n int) []QueueEventRecord {
	created := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	records := make([]QueueEventRecord, 0, n)
	prev := ""
	for i := 1; i <= n; i++ {
		record := QueueEventRecord{
			DoctorID:  "doc-1",
			Date:      "2026-03-02",
			Version:   uint64(i),
			Op:        "enqueue",
			Payload:   json.RawMessage(`{"version":1}`),
			CreatedAt: created.Add(time.Duration(i) * time.Second),
			PrevHash:  prev,
		}
		record.Hash = ComputeQueueEventHash(prev, record.DoctorID, record.Date, record.Version, record.Op, record.Payload, record.CreatedAt)
		prev = record.Hash
		records = append(records, record)
	}
	return records
}

func TestComputeQueueEventHashIsStable(t *testing.T) {
	created := time.Date(2026, 3, 2, 10, 0, 0, 0, time.FixedZone("WIB", 7*3600))
	a := ComputeQueueEventHash("", "doc-1", "2026-03-02", 1, "enqueue", json.RawMessage(`{}`), created)
	b := ComputeQueueEventHash("", "doc-1", "2026-03-02", 1, "enqueue", json.RawMessage(`{}`), created.UTC())
	if a != b {
		t.Fatalf("hash depends on time zone: %s != %s", a, b)
	}
	if c := ComputeQueueEventHash("", "doc-1", "2026-03-02", 2, "enqueue", json.RawMessage(`{}`), created); c == a {
		t.Fatalf("expected version to change hash")
	}
}

func TestVerifyChain(t *testing.T) {
	if err := VerifyChain(chain(4)); err != nil {
		t.Fatalf("expected valid chain, got %v", err)
	}

	tampered := chain(4)
	tampered[2].Op = "move"
	if err := VerifyChain(tampered); !errors.Is(err, ErrBrokenChain) {
		t.Fatalf("expected ErrBrokenChain for tampered content, got %v", err)
	}

	unlinked := chain(4)
	unlinked = append(unlinked[:1], unlinked[2:]...)
	if err := VerifyChain(unlinked); !errors.Is(err, ErrBrokenChain) {
		t.Fatalf("expected ErrBrokenChain for missing record, got %v", err)
	}
}
