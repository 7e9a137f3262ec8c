// Package storage keeps an archive of model descriptors and a history of control-loop
// runs in BadgerDB.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/hailam/reflex/internal/model"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Storage keys
const (
	prefixModel = "model/"
	prefixMeta  = "meta/"
	prefixRun   = "run/"
	keyStats    = "stats"
)

// ErrNotFound is returned when a model is not in the archive.
var ErrNotFound = errors.New("storage: not found")

// ModelInfo describes an archived descriptor.
type ModelInfo struct {
	Checksum string    `json:"checksum"`
	Shape    []uint32  `json:"shape"`
	Bias     bool      `json:"bias"`
	Source   string    `json:"source"`
	Size     int       `json:"size"`
	Stored   int       `json:"stored"`
	Created  time.Time `json:"created"`
}

// RunRecord is one control-loop session.
type RunRecord struct {
	ID        uuid.UUID     `json:"id"`
	Model     string        `json:"model"`
	Source    string        `json:"source"`
	Managed   bool          `json:"managed"`
	Started   time.Time     `json:"started"`
	Ended     time.Time     `json:"ended"`
	Cycles    uint64        `json:"cycles"`
	LastCycle time.Duration `json:"last_cycle"`
	Error     string        `json:"error,omitempty"`
}

// Duration is the wall time of the run.
func (r RunRecord) Duration() time.Duration {
	return r.Ended.Sub(r.Started)
}

// RunStats aggregates every recorded run.
type RunStats struct {
	Runs        int           `json:"runs"`
	Failed      int           `json:"failed"`
	TotalCycles uint64        `json:"total_cycles"`
	TotalTime   time.Duration `json:"total_time"`
	LongestRun  time.Duration `json:"longest_run"`
}

// CyclesPerSecond is the mean cycle rate over all runs.
func (s *RunStats) CyclesPerSecond() float64 {
	if s.TotalTime <= 0 {
		return 0
	}
	return float64(s.TotalCycles) / s.TotalTime.Seconds()
}

// Storage wraps BadgerDB for persistent storage
type Storage struct {
	db  *badger.DB
	log logr.Logger
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Open opens or creates the database in dir.
func Open(dir string, log logr.Logger) (*Storage, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{log.WithName("badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database in %s", dir)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, errors.Wrap(err, "failed to create decoder")
	}
	log.V(1).Info("storage opened", "dir", dir)
	return &Storage{db: db, log: log, enc: enc, dec: dec}, nil
}

// Close closes the database
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	s.enc.Close()
	s.dec.Close()
	err := s.db.Close()
	s.db = nil
	return err
}

// Checksum identifies an encoded descriptor.
func Checksum(descriptor []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(descriptor))
}

// PutModel archives n under the checksum of its encoding. Archiving the same
// network twice stores it once.
func (s *Storage) PutModel(n *model.Network, source string) (ModelInfo, error) {
	var buf bytes.Buffer
	if err := model.Encode(&buf, n); err != nil {
		return ModelInfo{}, errors.Wrap(err, "failed to encode model")
	}
	raw := buf.Bytes()
	blob := s.enc.EncodeAll(raw, nil)

	info := ModelInfo{
		Checksum: Checksum(raw),
		Shape:    n.Shape(),
		Bias:     n.Biases != nil,
		Source:   source,
		Size:     len(raw),
		Stored:   len(blob),
		Created:  time.Now(),
	}
	meta, err := json.Marshal(info)
	if err != nil {
		return ModelInfo{}, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(prefixMeta + info.Checksum))
		if err == nil {
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		if err := txn.Set([]byte(prefixModel+info.Checksum), blob); err != nil {
			return err
		}
		return txn.Set([]byte(prefixMeta+info.Checksum), meta)
	})
	if err != nil {
		return ModelInfo{}, errors.Wrap(err, "failed to store model")
	}
	s.log.V(1).Info("model archived", "checksum", info.Checksum, "size", info.Size, "stored", info.Stored)
	return info, nil
}

// GetModel decodes the archived descriptor with the given checksum.
func (s *Storage) GetModel(checksum string) (*model.Network, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixModel + checksum))
		if err == badger.ErrKeyNotFound {
			return errors.Wrapf(ErrNotFound, "model %s", checksum)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			raw, err = s.dec.DecodeAll(val, nil)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	if got := Checksum(raw); got != checksum {
		return nil, errors.Errorf("model %s is corrupt: checksum %s", checksum, got)
	}
	return model.ReadNetwork(bytes.NewReader(raw), true)
}

// Models lists the archive in checksum order.
func (s *Storage) Models() ([]ModelInfo, error) {
	var infos []ModelInfo
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixMeta)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var info ModelInfo
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &info)
			}); err != nil {
				return err
			}
			infos = append(infos, info)
		}
		return nil
	})
	return infos, err
}

// runKey orders runs by start time.
func runKey(r RunRecord) []byte {
	return []byte(fmt.Sprintf("%s%020d-%s", prefixRun, r.Started.UnixNano(), r.ID))
}

// RecordRun stores r, assigning an ID if it has none, and folds it into the
// aggregate statistics.
func (s *Storage) RecordRun(r *RunRecord) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		stats, err := loadStats(txn)
		if err != nil {
			return err
		}
		stats.Runs++
		if r.Error != "" {
			stats.Failed++
		}
		stats.TotalCycles += r.Cycles
		stats.TotalTime += r.Duration()
		if d := r.Duration(); d > stats.LongestRun {
			stats.LongestRun = d
		}
		encoded, err := json.Marshal(stats)
		if err != nil {
			return err
		}
		if err := txn.Set(runKey(*r), data); err != nil {
			return err
		}
		return txn.Set([]byte(keyStats), encoded)
	})
}

// Runs returns up to limit runs, newest first. A limit of 0 returns all of them.
func (s *Storage) Runs(limit int) ([]RunRecord, error) {
	var runs []RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixRun)
		for it.Seek(append([]byte(prefixRun), 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(runs) == limit {
				break
			}
			var r RunRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return err
			}
			runs = append(runs, r)
		}
		return nil
	})
	return runs, err
}

// LoadStats loads run statistics, returns empty stats if none were recorded
func (s *Storage) LoadStats() (*RunStats, error) {
	var stats *RunStats
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		stats, err = loadStats(txn)
		return err
	})
	return stats, err
}

func loadStats(txn *badger.Txn) (*RunStats, error) {
	stats := &RunStats{}
	item, err := txn.Get([]byte(keyStats))
	if err == badger.ErrKeyNotFound {
		return stats, nil
	}
	if err != nil {
		return nil, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, stats)
	})
	return stats, err
}
