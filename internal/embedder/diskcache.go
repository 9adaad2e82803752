package embedder

import (
	"database/sql"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"

	"github.com/dshills/sca/pkg/types"
)

// DiskCache persists embeddings across runs, keyed by content hash. A miss
// returns ok=false, never an error.
type DiskCache interface {
	Get(rc *types.RequestContext, hash string) ([]float32, bool, *types.ErrorEnvelope)
	Put(rc *types.RequestContext, hash string, vector []float32) *types.ErrorEnvelope
	Close() error
}

// SQLiteCache is the sqlite-backed disk cache. The driver is selected at
// build time (see build_cgo.go / build_purego.go).
type SQLiteCache struct {
	db       *sql.DB
	maxBytes int64
}

const cacheSchema = `
CREATE TABLE IF NOT EXISTS embeddings (
	hash       TEXT PRIMARY KEY,
	dimension  INTEGER NOT NULL,
	vector     BLOB NOT NULL,
	created_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);
`

// OpenSQLiteCache opens (creating if needed) the cache database at path.
// maxBytes bounds the stored vector payload; oldest entries are evicted when
// an insert would exceed it. Zero disables eviction.
func OpenSQLiteCache(path string, maxBytes int64) (*SQLiteCache, *types.ErrorEnvelope) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, types.AsEnvelope(err)
	}

	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, types.AsEnvelope(err)
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		_ = db.Close()
		return nil, types.AsEnvelope(err)
	}
	return &SQLiteCache{db: db, maxBytes: maxBytes}, nil
}

// Get looks up a vector by content hash.
func (c *SQLiteCache) Get(rc *types.RequestContext, hash string) ([]float32, bool, *types.ErrorEnvelope) {
	if env := rc.EnsureNotCancelled("embedding_cache.get"); env != nil {
		return nil, false, env
	}

	var blob []byte
	var dimension int
	row := c.db.QueryRowContext(rc.Context(), `SELECT vector, dimension FROM embeddings WHERE hash = ?`, hash)
	switch err := row.Scan(&blob, &dimension); err {
	case nil:
	case sql.ErrNoRows:
		return nil, false, nil
	default:
		return nil, false, types.AsEnvelope(err)
	}

	vector := decodeVector(blob)
	if len(vector) != dimension {
		// Treat a corrupt row as a miss; the entry is rewritten on Put.
		return nil, false, nil
	}
	return vector, true, nil
}

// Put stores a vector, evicting oldest entries when the payload budget would
// be exceeded.
func (c *SQLiteCache) Put(rc *types.RequestContext, hash string, vector []float32) *types.ErrorEnvelope {
	if env := rc.EnsureNotCancelled("embedding_cache.put"); env != nil {
		return env
	}

	if c.maxBytes > 0 {
		if env := c.evictFor(rc, int64(len(vector)*4)); env != nil {
			return env
		}
	}

	_, err := c.db.ExecContext(rc.Context(),
		`INSERT OR REPLACE INTO embeddings (hash, dimension, vector) VALUES (?, ?, ?)`,
		hash, len(vector), encodeVector(vector))
	if err != nil {
		return types.AsEnvelope(err)
	}
	return nil
}

func (c *SQLiteCache) evictFor(rc *types.RequestContext, incoming int64) *types.ErrorEnvelope {
	var stored sql.NullInt64
	row := c.db.QueryRowContext(rc.Context(), `SELECT SUM(LENGTH(vector)) FROM embeddings`)
	if err := row.Scan(&stored); err != nil {
		return types.AsEnvelope(err)
	}

	for stored.Valid && stored.Int64+incoming > c.maxBytes {
		result, err := c.db.ExecContext(rc.Context(),
			`DELETE FROM embeddings WHERE hash IN
			 (SELECT hash FROM embeddings ORDER BY created_at ASC, hash ASC LIMIT 64)`)
		if err != nil {
			return types.AsEnvelope(err)
		}
		affected, err := result.RowsAffected()
		if err != nil || affected == 0 {
			break
		}
		row = c.db.QueryRowContext(rc.Context(), `SELECT SUM(LENGTH(vector)) FROM embeddings`)
		if err := row.Scan(&stored); err != nil {
			return types.AsEnvelope(err)
		}
	}
	return nil
}

// Close closes the database.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

func encodeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

func decodeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}
