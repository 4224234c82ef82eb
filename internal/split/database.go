package split

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const sessionsBucket = "sessions"

// ErrSessionNotFound is returned when a session ID is unknown or expired
var ErrSessionNotFound = errors.New("session not found")

// DB defines the interface for session storage
type DB interface {
	// SaveSession inserts or replaces a session
	SaveSession(session *Session) error

	// GetSession retrieves a session by ID
	GetSession(id string) (*Session, error)

	// UpdateSession applies fn to the stored session atomically and saves
	// the result. Nothing is written if fn returns an error.
	UpdateSession(id string, fn func(*Session) error) (*Session, error)

	// DeleteSession removes a session
	DeleteSession(id string) error

	// DeleteSessionsBefore removes sessions last updated before cutoff and
	// returns how many were removed
	DeleteSessionsBefore(cutoff time.Time) (int, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(sessionsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveSession saves a session to the database
func (b *BoltDB) SaveSession(session *Session) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return putSession(tx.Bucket([]byte(sessionsBucket)), session)
	})
}

// GetSession retrieves a session by ID
func (b *BoltDB) GetSession(id string) (*Session, error) {
	var session *Session
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		session, err = getSession(tx.Bucket([]byte(sessionsBucket)), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// UpdateSession applies fn to a session inside a single write transaction
func (b *BoltDB) UpdateSession(id string, fn func(*Session) error) (*Session, error) {
	var session *Session
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucket))
		var err error
		session, err = getSession(bucket, id)
		if err != nil {
			return err
		}
		if err := fn(session); err != nil {
			return err
		}
		return putSession(bucket, session)
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// DeleteSession removes a session from the database
func (b *BoltDB) DeleteSession(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(sessionsBucket)).Delete([]byte(id))
	})
}

// DeleteSessionsBefore removes every session last updated before cutoff
func (b *BoltDB) DeleteSessionsBefore(cutoff time.Time) (int, error) {
	deleted := 0
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucket))

		// Collect first; deleting while iterating with ForEach is not allowed
		var expired [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var session Session
			if err := json.Unmarshal(v, &session); err != nil {
				// Unreadable sessions can never be served again
				expired = append(expired, append([]byte(nil), k...))
				return nil
			}
			if session.UpdatedAt.Before(cutoff) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range expired {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		deleted = len(expired)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func getSession(bucket *bbolt.Bucket, id string) (*Session, error) {
	data := bucket.Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshaling session: %w", err)
	}
	return &session, nil
}

func putSession(bucket *bbolt.Bucket, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	return bucket.Put([]byte(session.ID), data)
}
