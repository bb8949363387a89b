package index

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go.etcd.io/bbolt"

	"docchat/internal/model"
)

const storeVersion = 1

var (
	bucketMeta   = []byte("meta")
	bucketChunks = []byte("chunks")
	keyMeta      = []byte("index")
)

var ErrCorruptStore = errors.New("index store is incomplete")

type storeMeta struct {
	Version    int    `json:"version"`
	CorpusID   string `json:"corpus_id"`
	Model      string `json:"model"`
	Dimension  int    `json:"dimension"`
	Metric     Metric `json:"metric"`
	ChunkCount int    `json:"chunk_count"`
}

// Save writes the index to path. The file is written beside path and renamed into
// place, so path holds either the previous content or the complete new index.
func (idx *Index) Save(path string) error {
	tmp := path + ".tmp"
	_ = os.Remove(tmp)

	db, err := bbolt.Open(tmp, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("open index store failed: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		chunks, err := tx.CreateBucketIfNotExists(bucketChunks)
		if err != nil {
			return err
		}

		for _, c := range idx.chunks {
			data, err := json.Marshal(c)
			if err != nil {
				return err
			}
			if err := chunks.Put(chunkKey(c.ChunkID), data); err != nil {
				return err
			}
		}

		data, err := json.Marshal(storeMeta{
			Version:    storeVersion,
			CorpusID:   idx.corpusID,
			Model:      idx.model,
			Dimension:  idx.dimension,
			Metric:     idx.metric,
			ChunkCount: len(idx.chunks),
		})
		if err != nil {
			return err
		}
		return meta.Put(keyMeta, data)
	})
	if closeErr := db.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write index store failed: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit index store failed: %w", err)
	}
	return nil
}

// Load reads an index written by Save.
func Load(path string) (*Index, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open index store failed: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("open index store failed: %w", err)
	}
	defer db.Close()

	var (
		meta   storeMeta
		chunks []model.Chunk
	)
	err = db.View(func(tx *bbolt.Tx) error {
		mb := tx.Bucket(bucketMeta)
		cb := tx.Bucket(bucketChunks)
		if mb == nil || cb == nil {
			return ErrCorruptStore
		}
		data := mb.Get(keyMeta)
		if data == nil {
			return ErrCorruptStore
		}
		if err := json.Unmarshal(data, &meta); err != nil {
			return err
		}

		chunks = make([]model.Chunk, 0, meta.ChunkCount)
		return cb.ForEach(func(k, v []byte) error {
			var c model.Chunk
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			chunks = append(chunks, c)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read index store failed: %w", err)
	}

	if meta.Version != storeVersion {
		return nil, fmt.Errorf("unsupported index store version %d", meta.Version)
	}
	if len(chunks) != meta.ChunkCount {
		return nil, fmt.Errorf("%w: %d chunks, expected %d", ErrCorruptStore, len(chunks), meta.ChunkCount)
	}
	for i, c := range chunks {
		if c.ChunkID != i {
			return nil, fmt.Errorf("%w: chunk %d out of sequence", ErrCorruptStore, c.ChunkID)
		}
	}

	idx, err := New(meta.CorpusID, meta.Model, meta.Metric, chunks)
	if err != nil {
		return nil, err
	}
	if idx.dimension != meta.Dimension {
		return nil, fmt.Errorf("%w: dimension %d, expected %d", ErrCorruptStore, idx.dimension, meta.Dimension)
	}
	return idx, nil
}

func chunkKey(id int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(id))
	return k
}
