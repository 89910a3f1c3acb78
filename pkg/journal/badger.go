package journal

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/fortiblox/bytevm/internal/types"
)

// Key prefixes for BadgerDB storage.
var (
	// prefixRecord is the prefix for run records.
	// Key format: prefixRecord + seq (8 bytes, big endian)
	prefixRecord = []byte{0x01}

	// prefixProgram indexes runs by program.
	// Key format: prefixProgram + program id (32 bytes) + seq (8 bytes)
	prefixProgram = []byte{0x02}

	// prefixMeta is the prefix for metadata.
	prefixMeta = []byte{0x03}

	// metaLastSeq is the key for the last assigned sequence number.
	metaLastSeq = append(append([]byte{}, prefixMeta...), []byte("seq")...)

	// metaCount is the key for the number of stored records.
	metaCount = append(append([]byte{}, prefixMeta...), []byte("count")...)
)

// BadgerConfig contains configuration for BadgerJournal.
type BadgerConfig struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites ensures writes are synced to disk.
	SyncWrites bool

	// Logger is an optional logger. Set to nil to disable logging.
	Logger badger.Logger
}

// DefaultBadgerConfig returns default configuration.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:       path,
		SyncWrites: false,
	}
}

// BadgerJournal is a BadgerDB-backed Journal.
type BadgerJournal struct {
	db *badger.DB

	// lastSeq and count are cached in memory and written with every append.
	lastSeq atomic.Uint64
	count   atomic.Uint64

	// mu serializes appends.
	mu sync.Mutex

	closed atomic.Bool
}

// OpenBadger opens or creates a journal.
func OpenBadger(cfg BadgerConfig) (*BadgerJournal, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(cfg.Logger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	j := &BadgerJournal{db: db}
	if err := j.loadMetadata(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	return j, nil
}

func (j *BadgerJournal) loadMetadata() error {
	return j.db.View(func(txn *badger.Txn) error {
		for key, dst := range map[string]*atomic.Uint64{
			string(metaLastSeq): &j.lastSeq,
			string(metaCount):   &j.count,
		} {
			item, err := txn.Get([]byte(key))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			err = item.Value(func(val []byte) error {
				if len(val) >= 8 {
					dst.Store(binary.BigEndian.Uint64(val))
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func recordKey(seq uint64) []byte {
	key := make([]byte, 1+8)
	key[0] = prefixRecord[0]
	binary.BigEndian.PutUint64(key[1:], seq)
	return key
}

func programKey(id types.ProgramID, seq uint64) []byte {
	key := make([]byte, 1+32+8)
	key[0] = prefixProgram[0]
	copy(key[1:33], id[:])
	binary.BigEndian.PutUint64(key[33:], seq)
	return key
}

func uint64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// Append stores r and assigns its sequence number.
func (j *BadgerJournal) Append(r *Record) (uint64, error) {
	if j.closed.Load() {
		return 0, ErrClosed
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	seq := j.lastSeq.Load() + 1
	rec := *r
	rec.Seq = seq

	data, err := MarshalRecord(&rec)
	if err != nil {
		return 0, fmt.Errorf("encode record: %w", err)
	}

	count := j.count.Load() + 1
	err = j.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(recordKey(seq), data); err != nil {
			return err
		}
		if err := txn.Set(programKey(rec.ProgramID, seq), nil); err != nil {
			return err
		}
		if err := txn.Set(metaLastSeq, uint64Bytes(seq)); err != nil {
			return err
		}
		return txn.Set(metaCount, uint64Bytes(count))
	})
	if err != nil {
		return 0, err
	}

	j.lastSeq.Store(seq)
	j.count.Store(count)
	r.Seq = seq
	return seq, nil
}

// Get returns the record with sequence number seq.
func (j *BadgerJournal) Get(seq uint64) (*Record, error) {
	if j.closed.Load() {
		return nil, ErrClosed
	}

	var rec *Record
	err := j.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, seq)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func getRecord(txn *badger.Txn, seq uint64) (*Record, error) {
	item, err := txn.Get(recordKey(seq))
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("%w: %d", ErrRecordNotFound, seq)
	}
	if err != nil {
		return nil, err
	}
	var rec *Record
	err = item.Value(func(val []byte) error {
		rec, err = UnmarshalRecord(val)
		return err
	})
	return rec, err
}

// List returns records newest first.
func (j *BadgerJournal) List(opts ListOptions) ([]*Record, error) {
	if j.closed.Load() {
		return nil, ErrClosed
	}

	limit := opts.limit()
	start := j.lastSeq.Load()
	if opts.Before > 0 {
		if opts.Before-1 < start {
			start = opts.Before - 1
		}
	}
	if start == 0 {
		return nil, nil
	}

	var records []*Record
	err := j.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.Reverse = true

		var prefix, seek []byte
		if opts.Program != nil {
			// Index values are empty; records are fetched separately.
			iopts.PrefetchValues = false
			prefix = append(append([]byte{}, prefixProgram...), opts.Program[:]...)
			seek = programKey(*opts.Program, start)
		} else {
			prefix = prefixRecord
			seek = recordKey(start)
		}
		iopts.Prefix = prefix

		it := txn.NewIterator(iopts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(prefix) && len(records) < limit; it.Next() {
			item := it.Item()
			if opts.Program != nil {
				key := item.Key()
				seq := binary.BigEndian.Uint64(key[len(key)-8:])
				rec, err := getRecord(txn, seq)
				if err != nil {
					return err
				}
				records = append(records, rec)
				continue
			}
			err := item.Value(func(val []byte) error {
				rec, err := UnmarshalRecord(val)
				if err != nil {
					return err
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Count returns the number of stored records.
func (j *BadgerJournal) Count() (uint64, error) {
	if j.closed.Load() {
		return 0, ErrClosed
	}
	return j.count.Load(), nil
}

// Close closes the database.
func (j *BadgerJournal) Close() error {
	if j.closed.Swap(true) {
		return ErrClosed
	}
	return j.db.Close()
}

var _ Journal = (*BadgerJournal)(nil)
