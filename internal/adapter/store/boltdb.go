package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"docrag/internal/domain"
)

var (
	bucketChunks   = []byte("chunks")
	bucketChunkIDs = []byte("chunk_ids")
	bucketManifest = []byte("manifest")
	keyManifest    = []byte("manifest")
)

var errMissingManifest = errors.New("manifest not found")

// Manifest describes a persisted unit and is checked on load.
type Manifest struct {
	SchemaVersion  int       `json:"schema_version"`
	Count          int       `json:"count"`
	Dimension      int       `json:"dimension"`
	Backend        string    `json:"backend"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	ConfigHash     string    `json:"config_hash,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// BoltStore holds the chunk records, external ids and manifest of one
// generation in a bbolt file.
type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketChunks, bucketChunkIDs, bucketManifest} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// OpenBoltStoreReadOnly opens an existing metadata file without creating it.
func OpenBoltStoreReadOnly(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func positionKey(position int) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(position))
	return k[:]
}

// PutChunks writes every record and id of the store in one transaction.
func (s *BoltStore) PutChunks(chunks *ChunkStore) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		chunkBucket := tx.Bucket(bucketChunks)
		idBucket := tx.Bucket(bucketChunkIDs)
		for i := 0; i < chunks.Len(); i++ {
			record, _ := chunks.Get(i)
			data, err := json.Marshal(record)
			if err != nil {
				return err
			}
			key := positionKey(i)
			if err := chunkBucket.Put(key, data); err != nil {
				return err
			}
			if err := idBucket.Put(key, []byte(chunks.ID(i))); err != nil {
				return err
			}
		}
		return nil
	})
}

// Chunks reads all records back in position order. A gap in positions is
// reported as an error.
func (s *BoltStore) Chunks() (*ChunkStore, error) {
	chunks := NewChunkStore()
	err := s.db.View(func(tx *bbolt.Tx) error {
		chunkBucket := tx.Bucket(bucketChunks)
		idBucket := tx.Bucket(bucketChunkIDs)
		if chunkBucket == nil || idBucket == nil {
			return errors.New("chunk buckets missing")
		}

		c := chunkBucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if len(k) != 8 {
				return fmt.Errorf("invalid chunk key length %d", len(k))
			}
			position := int(binary.BigEndian.Uint64(k))
			if position != chunks.Len() {
				return fmt.Errorf("chunk positions not contiguous at %d", chunks.Len())
			}
			var record domain.ChunkRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("chunk %d: %w", position, err)
			}
			id := idBucket.Get(k)
			if id == nil {
				return fmt.Errorf("chunk %d has no id", position)
			}
			chunks.Append(record, string(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

func (s *BoltStore) PutManifest(m Manifest) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketManifest).Put(keyManifest, data)
	})
}

func (s *BoltStore) GetManifest() (Manifest, error) {
	var m Manifest
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketManifest)
		if b == nil {
			return errMissingManifest
		}
		data := b.Get(keyManifest)
		if data == nil {
			return errMissingManifest
		}
		return json.Unmarshal(data, &m)
	})
	return m, err
}
