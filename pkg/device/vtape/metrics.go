package vtape

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/marmos91/dittotape/internal/telemetry"
)

// StoreMetrics receives observations from an instrumented Store.
type StoreMetrics interface {
	// ObserveOperation records one store call ("load", "get", "put",
	// "commit") and its outcome.
	ObserveOperation(backend, op string, d time.Duration, err error)

	// RecordBytes counts record bytes moved by op ("get" or "put").
	RecordBytes(backend, op string, n int)
}

type noopStoreMetrics struct{}

func (noopStoreMetrics) ObserveOperation(string, string, time.Duration, error) {}
func (noopStoreMetrics) RecordBytes(string, string, int)                        {}

type instrumentedStore struct {
	Store
	backend string
	m       StoreMetrics
}

// Instrument wraps store so that every call is traced and reported to m
// under the backend label. m may be nil.
func Instrument(store Store, backend string, m StoreMetrics) Store {
	if m == nil {
		m = noopStoreMetrics{}
	}
	return &instrumentedStore{Store: store, backend: backend, m: m}
}

// observe opens a store span and returns the function that ends it.
func (s *instrumentedStore) observe(ctx context.Context, span, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	attrs = append(attrs, telemetry.Backend(s.backend))
	ctx, sp := telemetry.StartStoreSpan(ctx, span, attrs...)
	return ctx, func(err error) {
		// A missing record is how end of data shows; not a failure of the store.
		if errors.Is(err, ErrNotFound) {
			err = nil
		}
		telemetry.RecordError(ctx, err)
		sp.End()
		s.m.ObserveOperation(s.backend, op, time.Since(start), err)
	}
}

func (s *instrumentedStore) Load(ctx context.Context) (Layout, error) {
	ctx, done := s.observe(ctx, telemetry.SpanStoreLoad, "load")
	l, err := s.Store.Load(ctx)
	done(err)
	return l, err
}

func (s *instrumentedStore) Get(ctx context.Context, fileID string, idx int) ([]byte, error) {
	ctx, done := s.observe(ctx, telemetry.SpanStoreGet, "get",
		telemetry.StorageKey(fileID), telemetry.Record(int64(idx)))
	b, err := s.Store.Get(ctx, fileID, idx)
	done(err)
	if err == nil {
		s.m.RecordBytes(s.backend, "get", len(b))
	}
	return b, err
}

func (s *instrumentedStore) Put(ctx context.Context, fileID string, idx int, data []byte) error {
	ctx, done := s.observe(ctx, telemetry.SpanStorePut, "put",
		telemetry.StorageKey(fileID), telemetry.Record(int64(idx)), telemetry.Bytes(int64(len(data))))
	err := s.Store.Put(ctx, fileID, idx, data)
	done(err)
	if err == nil {
		s.m.RecordBytes(s.backend, "put", len(data))
	}
	return err
}

func (s *instrumentedStore) Commit(ctx context.Context, layout Layout, dropped []File) error {
	ctx, done := s.observe(ctx, telemetry.SpanStoreCommit, "commit",
		telemetry.Count(len(layout.Files)))
	err := s.Store.Commit(ctx, layout, dropped)
	done(err)
	return err
}
