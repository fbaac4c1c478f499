package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/absmach/fedguard/pkg/errors"
	"github.com/absmach/fedguard/pkg/fl"
	"github.com/dgraph-io/badger/v4"
)

var (
	ErrDBConnection = errors.New("badger database connection error")
	ErrDBQuery      = errors.New("database query error")
	ErrCreate       = errors.New("create error")
)

// Keys are "<kind>:<run>:" followed by the big-endian round so a prefix scan
// walks rounds in order.
const (
	roundPrefix = "round:"
	modelPrefix = "model:"
)

type Database struct {
	db *badger.DB
}

type modelRecord struct {
	Parameters []byte    `json:"parameters"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func NewDatabase(path string) (*Database, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func runPrefix(kind, runID string) []byte {
	return []byte(kind + runID + ":")
}

func key(kind, runID string, round uint64) []byte {
	return binary.BigEndian.AppendUint64(runPrefix(kind, runID), round)
}

func (d *Database) Create(_ context.Context, m fl.RoundMetrics) error {
	if m.RunID == "" {
		return pkgerrors.ErrInvalidID
	}
	val, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	return d.insert(key(roundPrefix, m.RunID, m.Round), val)
}

func (d *Database) Get(_ context.Context, runID string, round uint64) (fl.RoundMetrics, error) {
	val, err := d.get(key(roundPrefix, runID, round))
	if err != nil {
		return fl.RoundMetrics{}, err
	}

	var m fl.RoundMetrics
	if err := json.Unmarshal(val, &m); err != nil {
		return fl.RoundMetrics{}, fmt.Errorf("unmarshal error: %w", err)
	}

	return m, nil
}

func (d *Database) List(_ context.Context, runID string, offset, limit uint64) ([]fl.RoundMetrics, uint64, error) {
	prefix := runPrefix(roundPrefix, runID)
	total, err := d.countWithPrefix(prefix)
	if err != nil {
		return nil, 0, err
	}
	values, err := d.listWithPrefix(prefix, offset, limit)
	if err != nil {
		return nil, 0, err
	}

	rounds := make([]fl.RoundMetrics, len(values))
	for i, val := range values {
		if err := json.Unmarshal(val, &rounds[i]); err != nil {
			return nil, 0, fmt.Errorf("unmarshal error: %w", err)
		}
	}

	return rounds, total, nil
}

func (d *Database) SaveModel(_ context.Context, runID string, state fl.GlobalModelState) error {
	if runID == "" {
		return pkgerrors.ErrInvalidID
	}
	params, err := fl.EncodeParameters(state.Parameters)
	if err != nil {
		return err
	}
	val, err := json.Marshal(modelRecord{Parameters: params, UpdatedAt: state.UpdatedAt})
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	return d.insert(key(modelPrefix, runID, state.Round), val)
}

func (d *Database) LoadModel(_ context.Context, runID string, round uint64) (fl.GlobalModelState, error) {
	val, err := d.get(key(modelPrefix, runID, round))
	if err != nil {
		return fl.GlobalModelState{}, err
	}

	return decodeModel(round, val)
}

func (d *Database) LatestModel(_ context.Context, runID string) (fl.GlobalModelState, error) {
	prefix := runPrefix(modelPrefix, runID)

	var (
		round uint64
		val   []byte
	)
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// In reverse mode Seek lands on the last key at or before the seek key.
		it.Seek(append(append([]byte{}, prefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff))
		if !it.ValidForPrefix(prefix) {
			return pkgerrors.ErrNotFound
		}
		item := it.Item()
		round = binary.BigEndian.Uint64(item.Key()[len(prefix):])
		var err error
		val, err = item.ValueCopy(nil)

		return err
	})
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return fl.GlobalModelState{}, err
		}

		return fl.GlobalModelState{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return decodeModel(round, val)
}

func decodeModel(round uint64, val []byte) (fl.GlobalModelState, error) {
	var rec modelRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return fl.GlobalModelState{}, fmt.Errorf("unmarshal error: %w", err)
	}
	params, err := fl.DecodeParameters(rec.Parameters)
	if err != nil {
		return fl.GlobalModelState{}, err
	}

	return fl.GlobalModelState{Round: round, Parameters: params, UpdatedAt: rec.UpdatedAt}, nil
}

func (d *Database) get(key []byte) ([]byte, error) {
	var val []byte
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)

		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, pkgerrors.ErrNotFound
		}

		return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return val, nil
}

// insert writes key only if it is absent; the check and the write share one
// transaction so concurrent writers conflict instead of overwriting.
func (d *Database) insert(key, val []byte) error {
	err := d.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return pkgerrors.ErrEntityExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		return txn.Set(key, val)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pkgerrors.ErrEntityExists), errors.Is(err, badger.ErrConflict):
		return pkgerrors.ErrEntityExists
	default:
		return fmt.Errorf("%w: %w", ErrCreate, err)
	}
}

func (d *Database) listWithPrefix(prefix []byte, offset, limit uint64) ([][]byte, error) {
	var items [][]byte
	err := d.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		skipped := uint64(0)
		count := uint64(0)

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if skipped < offset {
				skipped++

				continue
			}
			if count >= limit {
				break
			}

			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			items = append(items, val)
			count++
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return items, nil
}

func (d *Database) countWithPrefix(prefix []byte) (uint64, error) {
	var count uint64
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return count, nil
}
