// Package store persists training checkpoints and per-epoch records in a badger database.
package store

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var ErrNotFound = errors.New("not found")

// Phase is the part of training a record was taken in.
type Phase string

const (
	Train Phase = "train"
	Test  Phase = "test"
)

func (p Phase) rank() int {
	switch p {
	case Train:
		return 0
	case Test:
		return 1
	}
	return 2
}

// Record is the outcome of one phase of one epoch.
type Record struct {
	Epoch int
	Phase Phase
	Loss  float32 // average loss per observation
	ESS   float32 // mean effective sample size, test records only
	Time  time.Time
}

// Store is a badger backed store of checkpoints and records, keyed by run name.
type Store struct {
	db *badger.DB
}

// Open opens the store in dir. An empty dir opens a store that lives in memory.
func Open(dir string, logger zerolog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger.With().Str("component", "badger").Logger()})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening store %q", dir)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func checkpointPrefix(run string) []byte { return []byte("ckpt/" + run + "/") }
func recordPrefix(run string) []byte     { return []byte("rec/" + run + "/") }

func checkpointKey(run string, epoch int) []byte {
	return append(checkpointPrefix(run), fmt.Sprintf("%010d", epoch)...)
}

// recordKey orders the records of a run by epoch, and within an epoch train before test.
func recordKey(run string, r Record) []byte {
	return append(recordPrefix(run), fmt.Sprintf("%010d/%d-%s", r.Epoch, r.Phase.rank(), r.Phase)...)
}

// PutCheckpoint stores the serialized network of run after epoch.
func (s *Store) PutCheckpoint(run string, epoch int, blob []byte) error {
	if epoch < 0 {
		return errors.Errorf("negative epoch %d", epoch)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return errors.WithStack(txn.Set(checkpointKey(run, epoch), blob))
	})
}

// Checkpoint returns the checkpoint of run taken after epoch.
func (s *Store) Checkpoint(run string, epoch int) (blob []byte, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checkpointKey(run, epoch))
		if err == badger.ErrKeyNotFound {
			return errors.Wrapf(ErrNotFound, "checkpoint of %q at epoch %d", run, epoch)
		}
		if err != nil {
			return errors.WithStack(err)
		}
		blob, err = item.ValueCopy(nil)
		return errors.WithStack(err)
	})
	return blob, err
}

// LatestCheckpoint returns the checkpoint of run with the highest epoch.
func (s *Store) LatestCheckpoint(run string) (epoch int, blob []byte, err error) {
	prefix := checkpointPrefix(run)
	epoch = -1
	err = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		var last *badger.Item
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			last = it.Item()
			if blob, err = last.ValueCopy(blob[:0]); err != nil {
				return errors.WithStack(err)
			}
			if _, err = fmt.Sscanf(string(bytes.TrimPrefix(last.Key(), prefix)), "%d", &epoch); err != nil {
				return errors.Wrapf(err, "malformed checkpoint key %q", last.Key())
			}
		}
		if last == nil {
			return errors.Wrapf(ErrNotFound, "no checkpoints for %q", run)
		}
		return nil
	})
	return epoch, blob, err
}

// PutRecord stores r for run, replacing any record of the same epoch and phase.
func (s *Store) PutRecord(run string, r Record) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return errors.WithStack(err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return errors.WithStack(txn.Set(recordKey(run, r), buf.Bytes()))
	})
}

// Records returns the records of run ordered by epoch. Records of the same epoch are ordered by phase.
func (s *Store) Records(run string) (retVal []Record, err error) {
	prefix := recordPrefix(run)
	err = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return errors.WithStack(err)
			}
			var r Record
			if err = gob.NewDecoder(bytes.NewReader(val)).Decode(&r); err != nil {
				return errors.Wrapf(err, "decoding record %q", it.Item().Key())
			}
			retVal = append(retVal, r)
		}
		return nil
	})
	return retVal, err
}

// badgerLogger routes badger's logs to zerolog.
type badgerLogger struct {
	zerolog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.Error().Msg(trim(f, v)) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.Warn().Msg(trim(f, v)) }
func (l badgerLogger) Infof(f string, v ...interface{})    { l.Debug().Msg(trim(f, v)) }
func (l badgerLogger) Debugf(f string, v ...interface{})   { l.Trace().Msg(trim(f, v)) }

func trim(f string, v []interface{}) string { return strings.TrimSpace(fmt.Sprintf(f, v...)) }
