package programstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fortiblox/bytevm/internal/types"
	"github.com/fortiblox/bytevm/pkg/program"
	bolt "go.etcd.io/bbolt"
)

// Bucket names for BoltDB.
var (
	// bucketPrograms stores code keyed by program ID.
	bucketPrograms = []byte("programs")

	// bucketNames stores gob-encoded entries keyed by name.
	bucketNames = []byte("names")

	// bucketMetadata stores store-wide counters.
	bucketMetadata = []byte("metadata")
)

// Metadata keys.
var (
	keyPutCount = []byte("put_count")
)

// Config holds program store options.
type Config struct {
	// Path is the database file.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool
}

// DefaultConfig returns the default configuration for a database at path.
func DefaultConfig(path string) Config {
	return Config{Path: path}
}

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db     *bolt.DB
	config Config

	mu       sync.RWMutex
	putCount uint64
	closed   bool
}

// Open creates or opens a program store.
func Open(config Config) (*BoltStore, error) {
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	opts := &bolt.Options{
		Timeout:  5 * time.Second,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	}

	db, err := bolt.Open(config.Path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &BoltStore{db: db, config: config}

	if !config.ReadOnly {
		if err := store.initBuckets(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init buckets: %w", err)
		}
	}

	if err := store.loadCachedValues(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load cached values: %w", err)
	}

	return store, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketPrograms, bucketNames, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) loadCachedValues() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if meta == nil {
			return nil // Empty database.
		}
		if v := meta.Get(keyPutCount); len(v) == 8 {
			s.putCount = binary.BigEndian.Uint64(v)
		}
		return nil
	})
}

func (s *BoltStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Put stores p under name.
func (s *BoltStore) Put(name string, p *program.Program) (*Entry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := p.RequireNonEmpty(); err != nil {
		return nil, err
	}

	id := p.ID()
	now := time.Now().UTC()
	entry := &Entry{Name: name, ID: id, Size: p.Size(), Created: now, Updated: now}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		names := tx.Bucket(bucketNames)
		programs := tx.Bucket(bucketPrograms)

		var old *Entry
		if data := names.Get([]byte(name)); data != nil {
			old = new(Entry)
			if err := decodeEntry(data, old); err != nil {
				return err
			}
			entry.Created = old.Created
		}

		if programs.Get(id[:]) == nil {
			if err := programs.Put(id[:], p.Code); err != nil {
				return err
			}
		}

		data, err := encodeEntry(entry)
		if err != nil {
			return err
		}
		if err := names.Put([]byte(name), data); err != nil {
			return err
		}

		if old != nil && old.ID != id {
			if err := dropIfOrphaned(tx, old.ID); err != nil {
				return err
			}
		}

		count := make([]byte, 8)
		binary.BigEndian.PutUint64(count, s.putCount+1)
		return tx.Bucket(bucketMetadata).Put(keyPutCount, count)
	})
	if err != nil {
		return nil, err
	}

	s.putCount++
	return entry, nil
}

// Get returns the program bound to name.
func (s *BoltStore) Get(name string) (*program.Program, *Entry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, nil, err
	}

	var (
		entry Entry
		code  []byte
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNames).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrProgramNotFound, name)
		}
		if err := decodeEntry(data, &entry); err != nil {
			return err
		}
		c := tx.Bucket(bucketPrograms).Get(entry.ID[:])
		if c == nil {
			return fmt.Errorf("%w: %s (code %s missing)", ErrProgramNotFound, name, entry.ID)
		}
		// Values are only valid inside the transaction.
		code = append([]byte(nil), c...)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	p, err := program.New(code)
	if err != nil {
		return nil, nil, err
	}
	return p, &entry, nil
}

// GetByID returns the program with the given content ID.
func (s *BoltStore) GetByID(id types.ProgramID) (*program.Program, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var code []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketPrograms).Get(id[:])
		if c == nil {
			return fmt.Errorf("%w: %s", ErrProgramNotFound, id)
		}
		code = append([]byte(nil), c...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return program.New(code)
}

// Resolve looks up ref as a name, then as a program ID.
func (s *BoltStore) Resolve(ref string) (*program.Program, error) {
	return resolve(s, ref)
}

// List returns all entries sorted by name.
func (s *BoltStore) List() ([]Entry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var entries []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNames).ForEach(func(k, v []byte) error {
			var e Entry
			if err := decodeEntry(v, &e); err != nil {
				return fmt.Errorf("entry %s: %w", k, err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	// Bolt iterates in key order already; keep the guarantee explicit.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Delete removes the binding for name.
func (s *BoltStore) Delete(name string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := ValidateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		names := tx.Bucket(bucketNames)
		data := names.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrProgramNotFound, name)
		}
		var e Entry
		if err := decodeEntry(data, &e); err != nil {
			return err
		}
		if err := names.Delete([]byte(name)); err != nil {
			return err
		}
		return dropIfOrphaned(tx, e.ID)
	})
}

// dropIfOrphaned deletes code that no name references.
func dropIfOrphaned(tx *bolt.Tx, id types.ProgramID) error {
	referenced := false
	err := tx.Bucket(bucketNames).ForEach(func(_, v []byte) error {
		var e Entry
		if err := decodeEntry(v, &e); err != nil {
			return err
		}
		if e.ID == id {
			referenced = true
		}
		return nil
	})
	if err != nil || referenced {
		return err
	}
	return tx.Bucket(bucketPrograms).Delete(id[:])
}

// Stats returns store statistics.
func (s *BoltStore) Stats() (*Stats, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	stats := &Stats{}
	err := s.db.View(func(tx *bolt.Tx) error {
		stats.Names = uint64(tx.Bucket(bucketNames).Stats().KeyN)
		return tx.Bucket(bucketPrograms).ForEach(func(_, v []byte) error {
			stats.Programs++
			stats.CodeBytes += uint64(len(v))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	stats.Puts = s.putCount
	s.mu.RUnlock()

	if info, err := os.Stat(s.config.Path); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}

// Close shuts down the store.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.db.Close()
}

func encodeEntry(e *Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeEntry(data []byte, e *Entry) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(e); err != nil {
		return fmt.Errorf("decode entry: %w", err)
	}
	return nil
}

// Verify interface compliance.
var _ Store = (*BoltStore)(nil)
