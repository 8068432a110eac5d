package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	bolt "go.etcd.io/bbolt"
)

var (
	viewBucket = []byte("view")
	viewKey    = []byte("settings")
)

// ErrNotFound is returned when no unexpired view state is stored.
var ErrNotFound = errors.New("view state not found")

type record struct {
	State     ViewState `json:"state"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store persists a single expiring ViewState record in a bbolt file.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// Open opens or creates the state file, creating its directory if needed.
func Open(fs afero.Fs, path string) (*Store, error) {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, createErr := tx.CreateBucketIfNotExists(viewBucket)

		return createErr
	})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the stored view state. An expired record is removed and reported as ErrNotFound.
func (s *Store) Load() (ViewState, error) {
	var rec record

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(viewBucket).Get(viewKey)
		if data == nil {
			return ErrNotFound
		}

		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ViewState{}, err
		}

		return ViewState{}, fmt.Errorf("reading view state: %w", err)
	}

	if !rec.ExpiresAt.IsZero() && !s.now().Before(rec.ExpiresAt) {
		if delErr := s.Delete(); delErr != nil {
			return ViewState{}, delErr
		}

		return ViewState{}, ErrNotFound
	}

	return rec.State, nil
}

// LoadOrDefault returns the stored state, or fallback when nothing valid is stored.
func (s *Store) LoadOrDefault(fallback ViewState) (ViewState, error) {
	v, err := s.Load()
	if errors.Is(err, ErrNotFound) {
		return fallback, nil
	}

	if err != nil {
		return fallback, err
	}

	if err := v.Validate(); err != nil {
		return fallback, nil //nolint:nilerr // stale or corrupt settings fall back silently
	}

	return v, nil
}

// Save replaces the stored state. A zero expiry never expires.
func (s *Store) Save(v ViewState, expiresAt time.Time) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid view state: %w", err)
	}

	data, err := json.Marshal(record{State: v, ExpiresAt: expiresAt.UTC()})
	if err != nil {
		return fmt.Errorf("encoding view state: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(viewBucket).Put(viewKey, data)
	})
}

// Delete removes the stored state.
func (s *Store) Delete() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(viewBucket).Delete(viewKey)
	})
}
