package store

import (
	"context"
	"time"

	"calen/internal/metrics"
	"calen/internal/model"
)

// WithMetrics wraps s so every call is counted and timed.
// Close is passed through untimed.
func WithMetrics(s FeedStore) FeedStore {
	return &instrumented{next: s}
}

type instrumented struct {
	next FeedStore
}

func (i *instrumented) Initialize(ctx context.Context) (err error) {
	defer observe("initialize", time.Now(), &err)
	return i.next.Initialize(ctx)
}

func (i *instrumented) Insert(ctx context.Context, ev model.Event) (id int64, err error) {
	defer observe("insert", time.Now(), &err)
	return i.next.Insert(ctx, ev)
}

func (i *instrumented) Get(ctx context.Context, id int64) (ev model.Event, err error) {
	defer observe("get", time.Now(), &err)
	return i.next.Get(ctx, id)
}

func (i *instrumented) ListAll(ctx context.Context) (evs []model.Event, err error) {
	defer observe("list_all", time.Now(), &err)
	return i.next.ListAll(ctx)
}

func (i *instrumented) ListByDay(ctx context.Context, day string) (evs []model.Event, err error) {
	defer observe("list_by_day", time.Now(), &err)
	return i.next.ListByDay(ctx, day)
}

func (i *instrumented) DeleteByName(ctx context.Context, name string) (n int64, err error) {
	defer observe("delete_by_name", time.Now(), &err)
	return i.next.DeleteByName(ctx, name)
}

func (i *instrumented) DeleteByID(ctx context.Context, id int64) (err error) {
	defer observe("delete_by_id", time.Now(), &err)
	return i.next.DeleteByID(ctx, id)
}

func (i *instrumented) ImportOccurrence(ctx context.Context, sourceID, instanceKey string, ev model.Event) (id int64, inserted bool, err error) {
	defer observe("import_occurrence", time.Now(), &err)
	return i.next.ImportOccurrence(ctx, sourceID, instanceKey, ev)
}

func (i *instrumented) Close() error {
	return i.next.Close()
}

func observe(op string, started time.Time, err *error) {
	metrics.ObserveStoreOp(op, started, *err)
}
