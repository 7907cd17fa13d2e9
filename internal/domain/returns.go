package domain

import (
	"fmt"
	"strings"
	"time"
)

type ReturnStatus string

const (
	ReturnRequested ReturnStatus = "requested"
	ReturnApproved  ReturnStatus = "approved"
	ReturnRejected  ReturnStatus = "rejected"
	ReturnProcessed ReturnStatus = "processed"
)

var returnEdges = map[ReturnStatus][]ReturnStatus{
	ReturnRequested: {ReturnApproved, ReturnRejected},
	ReturnApproved:  {ReturnProcessed},
}

// ParseReturnUpdate accepts only the statuses an administrator may set.
func ParseReturnUpdate(raw string) (ReturnStatus, error) {
	s := ReturnStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case ReturnApproved, ReturnRejected, ReturnProcessed:
		return s, nil
	}
	return "", fmt.Errorf("%w: invalid return status %q", ErrInvalidInput, raw)
}

// CheckReturnTransition allows requested -> approved -> processed and
// requested -> rejected.
func CheckReturnTransition(from, to ReturnStatus) error {
	for _, next := range returnEdges[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: return %s -> %s", ErrInvalidTransition, from, to)
}

type ReturnRequest struct {
	ID        string       `json:"id" db:"id"`
	OrderID   string       `json:"order_id" db:"order_id"`
	UserID    string       `json:"user_id" db:"user_id"`
	Reason    string       `json:"reason" db:"reason"`
	Status    ReturnStatus `json:"status" db:"status"`
	Version   int64        `json:"-" db:"version"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}
