// Package credstore persists the current access/refresh credential pair
// so a session survives process restarts. It is a dumb key-value holder:
// no validation, no expiry logic.
package credstore

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// storeDirPerm is the permission mode for the state directory (~/.portal-client/).
	storeDirPerm = fs.FileMode(0o700)

	// storeFilePerm is the permission mode for the state database file.
	storeFilePerm = fs.FileMode(0o600)

	// storeOpenTimeout is the maximum time to wait for the bolt database lock.
	storeOpenTimeout = 5 * time.Second
)

var (
	authBucket      = []byte("auth")
	accessTokenKey  = []byte("access_token")
	refreshTokenKey = []byte("refresh_token")
)

// Credential is the access/refresh token pair identifying an
// authenticated client. It is valid only when both tokens are present;
// a partial pair is treated as absent everywhere.
type Credential struct {
	AccessToken  string
	RefreshToken string
}

// Present reports whether both tokens are set.
func (c Credential) Present() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// Store is the credential holder consumed by the session controller and
// the request gateway.
type Store interface {
	Save(Credential) error
	Load() (Credential, bool)
	Clear() error
}

// BoltStore persists the credential pair in a bbolt database.
type BoltStore struct {
	db *bolt.DB
}

// Open opens the credential database at ~/.portal-client/state.db,
// creating it if it does not exist.
func Open() (*BoltStore, error) {
	return OpenAt(dbPath())
}

// OpenAt opens a credential database at the given path, creating it if
// it does not exist. Useful for tests that need an isolated database.
func OpenAt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), storeDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, storeFilePerm, &bolt.Options{Timeout: storeOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening credential db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(authBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing credential db: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Save persists the credential pair. Both tokens are written in one
// transaction so the pair can never be observed half-written.
func (s *BoltStore) Save(c Credential) error {
	if !c.Present() {
		return fmt.Errorf("refusing to save partial credential")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(authBucket)

		if err := b.Put(accessTokenKey, []byte(c.AccessToken)); err != nil {
			return err
		}

		return b.Put(refreshTokenKey, []byte(c.RefreshToken))
	})
}

// Load returns the stored credential pair. The second return is false
// when either token is missing or storage is unreadable; callers treat
// that as "no session".
func (s *BoltStore) Load() (Credential, bool) {
	var c Credential

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(authBucket)

		if v := b.Get(accessTokenKey); v != nil {
			c.AccessToken = string(v)
		}

		if v := b.Get(refreshTokenKey); v != nil {
			c.RefreshToken = string(v)
		}

		return nil
	})
	if err != nil || !c.Present() {
		return Credential{}, false
	}

	return c, true
}

// Clear removes both tokens.
func (s *BoltStore) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(authBucket)

		if err := b.Delete(accessTokenKey); err != nil {
			return err
		}

		return b.Delete(refreshTokenKey)
	})
}

func dbPath() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		// Fail loudly rather than silently writing to the current directory
		// where the database (containing session tokens) might end up with
		// wrong permissions or inside a source-controlled tree.
		fmt.Fprintf(os.Stderr, "fatal: cannot determine home directory: %v\n", err)
		os.Exit(1)
	}

	return filepath.Join(dir, ".portal-client", "state.db")
}
