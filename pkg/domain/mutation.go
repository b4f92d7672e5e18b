package domain

import (
	"fmt"
	"time"
)

// EntityKind names a family of persisted entities that caches depend on.
type EntityKind string

const (
	EntityUser    EntityKind = "user"
	EntityProduct EntityKind = "product"
)

func (k EntityKind) String() string { return string(k) }

// ChangeKind is the kind of committed mutation.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeRemoved ChangeKind = "removed"
)

func (c ChangeKind) IsValid() bool {
	switch c {
	case ChangeCreated, ChangeUpdated, ChangeRemoved:
		return true
	}
	return false
}

// MutationEvent announces that an entity changed. It is produced once per
// successful mutation, after the store committed.
type MutationEvent struct {
	Kind        EntityKind `json:"kind"`
	ID          string     `json:"id,omitempty"`
	Change      ChangeKind `json:"change"`
	CommittedAt time.Time  `json:"committed_at"`
}

func (e MutationEvent) String() string {
	if e.ID == "" {
		return fmt.Sprintf("%s %s", e.Kind, e.Change)
	}
	return fmt.Sprintf("%s/%s %s", e.Kind, e.ID, e.Change)
}
