package badger

import (
	"context"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/models"
)

const payloadKeyPrefix = "payload:"

// PayloadStore holds the large artifacts that flow between pipeline stages
// (program outputs, state diffs, blob payloads) as raw key-value entries,
// keyed by path-style names like "42/snos_output.json".
type PayloadStore struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPayloadStore creates a payload store backed by the given database
func NewPayloadStore(db *BadgerDB, logger arbor.ILogger) *PayloadStore {
	return &PayloadStore{
		db:     db,
		logger: logger,
	}
}

func payloadKey(key string) []byte {
	return []byte(payloadKeyPrefix + key)
}

// Put stores data under the given key, overwriting any existing entry
func (s *PayloadStore) Put(ctx context.Context, key string, data []byte) error {
	err := s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		return tx.Set(payloadKey(key), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store payload %s: %w", key, err)
	}

	s.logger.Trace().Str("key", key).Int("bytes", len(data)).Msg("Payload stored")
	return nil
}

// Get retrieves the data stored under the given key. Returns
// ErrPayloadNotFound when no entry exists.
func (s *PayloadStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.Store().Badger().View(func(tx *badgerdb.Txn) error {
		item, err := tx.Get(payloadKey(key))
		if err != nil {
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", models.ErrPayloadNotFound, key)
			}
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Exists reports whether an entry exists under the given key
func (s *PayloadStore) Exists(ctx context.Context, key string) (bool, error) {
	err := s.db.Store().Badger().View(func(tx *badgerdb.Txn) error {
		_, err := tx.Get(payloadKey(key))
		return err
	})
	if err != nil {
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check payload %s: %w", key, err)
	}
	return true, nil
}
