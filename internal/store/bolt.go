package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var contentsBucket = []byte("contents")

// ContentRecord remembers a content definition already registered with the
// provider, keyed by the hash of that definition.
type ContentRecord struct {
	Key          string    `json:"key"`
	SID          string    `json:"sid"`
	FriendlyName string    `json:"friendly_name"`
	CreatedAt    time.Time `json:"created_at"`
}

type Store interface {
	GetContent(key string) (*ContentRecord, error)
	SaveContent(r ContentRecord) error
	DeleteContent(key string) error
	Close() error
}

type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(contentsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating contents bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// GetContent returns nil, nil when nothing is cached under key.
func (s *BoltStore) GetContent(key string) (*ContentRecord, error) {
	var r ContentRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(contentsBucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &r)
	})
	if err != nil {
		return nil, err
	}
	if r.SID == "" {
		return nil, nil
	}
	return &r, nil
}

func (s *BoltStore) SaveContent(r ContentRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return tx.Bucket(contentsBucket).Put([]byte(r.Key), data)
	})
}

func (s *BoltStore) DeleteContent(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(contentsBucket).Delete([]byte(key))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
