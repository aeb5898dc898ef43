package vtape

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
)

// ErrNotFound is returned by a Store for a record that was never written.
var ErrNotFound = errors.New("record not found")

// File is one media file on the virtual tape. ID names the storage
// generation of the file; rewriting a file from its start allocates a new
// ID so stale records of the old generation are never read back.
type File struct {
	ID      string `msgpack:"id"`
	Records int    `msgpack:"records"`
	Closed  bool   `msgpack:"closed"` // terminated by a file mark
}

// Layout is the persistent description of the tape contents.
type Layout struct {
	Files          []File `msgpack:"files"`
	WriteProtected bool   `msgpack:"write_protected"`
}

// Clone returns a deep copy.
func (l Layout) Clone() Layout {
	c := l
	c.Files = append([]File(nil), l.Files...)
	return c
}

// Store persists records and the layout of a virtual tape.
type Store interface {
	// Load returns the saved layout, or an empty one for a new tape.
	Load(ctx context.Context) (Layout, error)
	Get(ctx context.Context, fileID string, idx int) ([]byte, error)
	Put(ctx context.Context, fileID string, idx int, data []byte) error
	// Commit persists layout and forgets every file in dropped.
	Commit(ctx context.Context, layout Layout, dropped []File) error
	Close() error
}

// NewFileID returns a fresh, time ordered file generation ID.
func NewFileID() string {
	return ulid.Make().String()
}

// MemoryStore keeps the tape in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	layout  Layout
	records map[string][]byte
}

// NewMemoryStore creates an empty in-memory tape.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

func recordKey(fileID string, idx int) string {
	return fmt.Sprintf("%s/%012d", fileID, idx)
}

func (s *MemoryStore) Load(context.Context) (Layout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.layout.Clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, fileID string, idx int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.records[recordKey(fileID, idx)]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

func (s *MemoryStore) Put(_ context.Context, fileID string, idx int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[recordKey(fileID, idx)] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) Commit(_ context.Context, layout Layout, dropped []File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layout = layout.Clone()
	for _, f := range dropped {
		for i := 0; i < f.Records; i++ {
			delete(s.records, recordKey(f.ID, i))
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// Mutate applies fn to a stored record in place. Tests use it to damage
// media behind the drive's back.
func (s *MemoryStore) Mutate(fileID string, idx int, fn func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.records[recordKey(fileID, idx)]
	if !ok {
		return ErrNotFound
	}
	fn(b)
	return nil
}
