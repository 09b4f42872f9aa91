package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MegaGrindStone/ollama-cli/internal/models"
	bolt "go.etcd.io/bbolt"
)

var listingsBucket = []byte("listings")

// BoltDB keeps scraped library listings on disk so repeated browsing and searching within the cache TTL
// does not hit the library page again. Only remote listings are stored here; installed and running
// models are always fetched from the daemon.
type BoltDB struct {
	db *bolt.DB
}

type listingRecord struct {
	FetchedAt time.Time            `json:"fetchedAt"`
	Models    []models.RemoteModel `json:"models"`
}

// NewBoltDB opens (or creates, with 0600 permissions) the cache file at path and ensures the listings
// bucket exists. A short open timeout keeps a second running instance from hanging on the file lock.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(listingsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return BoltDB{}, fmt.Errorf("failed to create listings bucket: %w", err)
	}

	return BoltDB{db: db}, nil
}

// Close releases the cache file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

// RemoteModels returns the listing stored under key and the time it was fetched. A missing entry yields
// a nil slice and a zero time.
func (b BoltDB) RemoteModels(_ context.Context, key string) ([]models.RemoteModel, time.Time, error) {
	var rec listingRecord
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(listingsBucket)
		if b == nil {
			return nil
		}

		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal listing: %w", err)
		}
		found = true
		return nil
	})
	if err != nil || !found {
		return nil, time.Time{}, err
	}
	if rec.Models == nil {
		rec.Models = []models.RemoteModel{}
	}
	return rec.Models, rec.FetchedAt, nil
}

// PutRemoteModels stores a listing under key, replacing any previous one.
func (b BoltDB) PutRemoteModels(_ context.Context, key string, remote []models.RemoteModel, fetchedAt time.Time) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(listingsBucket)
		if b == nil {
			return fmt.Errorf("listings bucket missing")
		}

		v, err := json.Marshal(listingRecord{FetchedAt: fetchedAt, Models: remote})
		if err != nil {
			return fmt.Errorf("failed to marshal listing: %w", err)
		}

		return b.Put([]byte(key), v)
	})
}
