// ABOUTME: Store interface and data types for entry pass persistence
// ABOUTME: Defines Participant, CheckIn structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Participant represents one imported row from the paid participant sheet.
// Headers and Data are opaque to the core: their shape is whatever the source
// sheet had, and only best-effort field detection ever inspects them.
type Participant struct {
	RowHash   string
	RowNumber int
	Headers   []string
	Data      map[string]string
}

// CheckIn records event-day admission for one participant. At most one row
// exists per RowHash; a repeat check-in overwrites CheckedInAt/CheckedInBy.
type CheckIn struct {
	RowHash     string
	CheckedInAt time.Time
	CheckedInBy string
}

// Store is the participant and check-in ledger boundary the protocol handler
// depends on.
type Store interface {
	// GetParticipant returns the paid participant for a row hash.
	// Returns ErrNotFound if the row is not in the paid set.
	GetParticipant(ctx context.Context, rowHash string) (*Participant, error)

	// ListParticipants returns all paid participants ordered by row number.
	ListParticipants(ctx context.Context) ([]*Participant, error)

	// UpsertParticipants bulk-replaces participant rows by row hash.
	// Called by the sheet sync process, not by the protocol handler.
	UpsertParticipants(ctx context.Context, participants []*Participant) error

	// GetCheckIn returns the check-in record for a row hash.
	// Returns ErrNotFound when the participant has not checked in; that is
	// the normal state before event day.
	GetCheckIn(ctx context.Context, rowHash string) (*CheckIn, error)

	// UpsertCheckIn inserts or overwrites the check-in record for a row hash.
	// Conflict target is the row hash: concurrent writers race and the last
	// write wins, both reporting success.
	UpsertCheckIn(ctx context.Context, checkin *CheckIn) error

	Close() error
}
