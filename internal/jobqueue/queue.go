// Package jobqueue holds the contract the scheduling engine requires from the
// external deferred-job system, plus an in-process implementation of it. The
// engine never depends on the queue's storage format, only on enqueue-with-id,
// lookup-by-id and idempotent cancel-by-id.
package jobqueue

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// KindSendDeal is the job kind for a scheduled deal send.
const KindSendDeal = "send-deal"

type Job struct {
	ID     string    `json:"id"`
	Kind   string    `json:"kind"`
	DealID uint      `json:"deal_id"`
	RunAt  time.Time `json:"run_at"`
}

type Queue interface {
	Enqueue(job *Job) error
	// Get returns nil, nil when the job is absent.
	Get(id string) (*Job, error)
	// Remove is idempotent; removing an absent job is not an error.
	Remove(id string) error
}

// NewJobID mints a native queue job id.
func NewJobID() string {
	return uuid.NewString()
}

// EncodeRef builds the opaque internal reference stored on a scheduled deal.
func EncodeRef(kind, id string) string {
	return kind + ":" + id
}

// DecodeRef translates an internal reference back to the queue's native id.
func DecodeRef(ref string) (string, error) {
	_, id, ok := strings.Cut(ref, ":")
	if !ok || id == "" {
		return "", fmt.Errorf("malformed job reference %q", ref)
	}
	return id, nil
}
