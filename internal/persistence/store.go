// Package persistence keeps the record store mirrored to a key-value byte
// store: the whole state is written under one key after every committed
// transaction and read back at startup.
package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"clinicflow/internal/blob"
	"clinicflow/internal/infra/persistence/memory"
	"clinicflow/pkg/domain"
	"clinicflow/pkg/logging"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	// StateKey is the default key the state document is stored under.
	StateKey = "clinicflow_state_v2"
	// SchemaVersion tags every written document. Documents without a version
	// are read leniently; documents with a higher version are discarded.
	SchemaVersion = 2
	contentType   = "application/json"
)

// Document is the persisted layout. Sections are pointers so a stored blob
// that lacks one leaves the in-memory value untouched on load.
type Document struct {
	Version  int                             `json:"version,omitempty"`
	App      *domain.AppFocus                `json:"app,omitempty"`
	Patients map[string]domain.PatientRecord `json:"patients,omitempty"`
	UI       *domain.UIState                 `json:"ui,omitempty"`
}

// ErrUnsupportedVersion marks a document written by a newer schema.
var ErrUnsupportedVersion = errors.New("persistence: unsupported document version")

// Store persists the in-memory record store after each successful transaction.
type Store struct {
	*memory.Store
	blobs  blob.Store
	key    string
	logger *logging.Logger
	mu     sync.Mutex
}

// Option customises a Store.
type Option func(*Store)

// WithKey overrides the storage key.
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithLogger sets the logger used for load and reseed diagnostics.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New wraps a fresh record store around blobs without reading anything.
func New(blobs blob.Store, engine *domain.RulesEngine, opts ...Option) *Store {
	s := &Store{
		Store:  memory.NewStore(engine),
		blobs:  blobs,
		key:    StateKey,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open constructs a Store and loads any persisted state.
func Open(ctx context.Context, blobs blob.Store, engine *domain.RulesEngine, opts ...Option) (*Store, error) {
	s := New(blobs, engine, opts...)
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Key returns the storage key in use.
func (s *Store) Key() string { return s.key }

// Blobs exposes the backing byte store.
func (s *Store) Blobs() blob.Store { return s.blobs }

// RunInTransaction applies fn through the record store, then persists the
// committed state. A persistence failure is returned after the commit.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.Save(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// Load reads the stored document. A missing or unreadable document is
// replaced by the seed; a parsed one is shallow-merged into live state.
// Backend read failures are returned without reseeding.
func (s *Store) Load(ctx context.Context) error {
	raw, err := blob.ReadAll(ctx, s.blobs, s.key)
	if errors.Is(err, blob.ErrNotFound) {
		s.logger.Info("no persisted state, seeding", "key", s.key)
		return s.Seed(ctx)
	}
	if err != nil {
		return fmt.Errorf("read state %s: %w", s.key, err)
	}
	doc, err := Decode(raw)
	if err != nil {
		s.logger.Warn("discarding persisted state", "key", s.key, "error", err)
		return s.Seed(ctx)
	}
	s.MergeState(memory.PartialSnapshot{App: doc.App, Patients: doc.Patients, UI: doc.UI})
	s.logger.Debug("state loaded", "key", s.key, "patients", len(doc.Patients))
	return nil
}

// Save serialises the full state and writes it under the key.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx)
}

func (s *Store) saveLocked(ctx context.Context) error {
	raw, err := s.Encode()
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if _, err := s.blobs.Put(ctx, s.key, bytes.NewReader(raw), blob.PutOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("write state %s: %w", s.key, err)
	}
	return nil
}

// Seed installs the sample patient P001 in place of all patients and persists.
func (s *Store) Seed(ctx context.Context) error {
	now := s.NowFunc()()
	s.MergeState(memory.PartialSnapshot{Patients: map[string]domain.PatientRecord{
		"P001": SeedPatient(now),
	}})
	return s.Save(ctx)
}

// Reset deletes the stored document, clears focus, UI and patients, then reseeds.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	if _, err := s.blobs.Delete(ctx, s.key); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("delete state %s: %w", s.key, err)
	}
	s.mu.Unlock()
	if err := s.Store.Reset(ctx); err != nil {
		return err
	}
	return s.Seed(ctx)
}

// Encode renders the current state as a versioned document.
func (s *Store) Encode() ([]byte, error) {
	snap := s.ExportState()
	return json.Marshal(Document{
		Version:  SchemaVersion,
		App:      &snap.App,
		Patients: snap.Patients,
		UI:       &snap.UI,
	})
}

// Decode parses a stored document, rejecting newer schema versions.
func Decode(raw []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, err
	}
	if doc.Version > SchemaVersion {
		return Document{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}
	return doc, nil
}
