package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

func ComputeQueueEventHash(prevHash, doctorID, date string, version uint64, op string, payload json.RawMessage, createdAt time.Time) string {
	raw := fmt.Sprintf("%s|%s|%s|%d|%s|%s|%s", prevHash, doctorID, date, version, op, createdAt.UTC().Format(time.RFC3339Nano), payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyChain checks that records, in version order, link to each other and
// that every hash matches its content.
func VerifyChain(records []QueueEventRecord) error {
	prev := ""
	for i, record := range records {
		if i > 0 && record.PrevHash != prev {
			return fmt.Errorf("%w: version %d does not link to %d", ErrBrokenChain, record.Version, records[i-1].Version)
		}
		want := ComputeQueueEventHash(record.PrevHash, record.DoctorID, record.Date, record.Version, record.Op, record.Payload, record.CreatedAt)
		if record.Hash != want {
			return fmt.Errorf("%w: version %d hash mismatch", ErrBrokenChain, record.Version)
		}
		prev = record.Hash
	}
	return nil
}
