// Package store defines the persistence contracts of the scheduler and their
// in-memory and SQL implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/skywatch/skywatch/internal/types"
)

var (
	// ErrNotFound is returned when an alert or event does not exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned by CreateAlert for a duplicate id
	ErrAlreadyExists = errors.New("already exists")
)

// AlertStore reads alerts and writes their trigger status
type AlertStore interface {
	ListAlerts(ctx context.Context) ([]types.Alert, error)
	LoadAllGroupedByLocation(ctx context.Context) ([]types.LocationGroup, error)
	// UpdateTriggerStatuses sets the status of both id sets and stamps them
	// with at. It returns the number of rows touched.
	UpdateTriggerStatuses(ctx context.Context, triggeredIDs, notTriggeredIDs []string, at time.Time) (int64, error)
	CreateAlert(ctx context.Context, alert types.Alert) error
	DeleteAlert(ctx context.Context, id string) error
}

// EventStore is the append-only log of triggered events
type EventStore interface {
	// Append stores evt and returns its id, generating one when empty
	Append(ctx context.Context, evt types.TriggeredEvent) (string, error)
	MarkNotificationSent(ctx context.Context, eventID, channel string, at time.Time) error
	ListRecent(ctx context.Context, limit int) ([]types.TriggeredEvent, error)
	// ListPending returns events with at least one unsent channel, oldest first
	ListPending(ctx context.Context) ([]types.TriggeredEvent, error)
}

// Store is a backend serving both contracts
type Store interface {
	AlertStore
	EventStore
	Close() error
}
