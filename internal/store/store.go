// Package store defines the persistence contract for calendar events.
package store

import (
	"context"
	"errors"

	"calen/internal/model"
)

// ErrNotFound indicates a requested event does not exist.
var ErrNotFound = errors.New("event not found")

// Store persists events.
//
// ListByDay matches the day as a plain substring of the stored date text.
// It is format-sensitive: a row stored as "2025-03-05" is not found by
// "05-03-2025". Callers should send the dd-MM-yyyy form the shells use.
type Store interface {
	Initialize(ctx context.Context) error
	Insert(ctx context.Context, ev model.Event) (int64, error)
	Get(ctx context.Context, id int64) (model.Event, error)
	ListAll(ctx context.Context) ([]model.Event, error)
	ListByDay(ctx context.Context, day string) ([]model.Event, error)
	// DeleteByName removes every event whose name equals name exactly.
	DeleteByName(ctx context.Context, name string) (int64, error)
	DeleteByID(ctx context.Context, id int64) error
	Close() error
}

// FeedStore links imported feed occurrences to the events created for them.
type FeedStore interface {
	Store
	// ImportOccurrence inserts ev unless (sourceID, instanceKey) was imported
	// before. inserted reports whether a new event was created.
	ImportOccurrence(ctx context.Context, sourceID, instanceKey string, ev model.Event) (id int64, inserted bool, err error)
}
