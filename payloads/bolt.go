package payloads

import (
	"errors"
	"fmt"

	"github.com/n0rdy/qakka/common"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

// every stored value starts with this byte, so an empty payload is still a non-empty value
const formatV1 byte = 1

var (
	bucketPayloads = []byte("payloads")

	// ErrNotFound is returned by Get when no payload was stored under the message id.
	ErrNotFound = common.ErrNotFoundMessageData
)

// Store keeps message payloads keyed by message id. One payload is shared by
// every queue message row (one per destination region) that carries the id.
type Store interface {
	Put(messageID string, data []byte) error
	Get(messageID string) ([]byte, error)
	Has(messageID string) (bool, error)
	Delete(messageID string) error
	Close() error
}

type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens (or creates) the payload database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o640, &bbolt.Options{Timeout: 0})
	if err != nil {
		return nil, fmt.Errorf("payloads: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPayloads)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("payloads: init bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (bs *BoltStore) Put(messageID string, data []byte) error {
	val := make([]byte, 0, len(data)+1)
	val = append(val, formatV1)
	val = append(val, data...)

	err := bs.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPayloads).Put([]byte(messageID), val)
	})
	if err != nil {
		log.Error().Err(err).Str("message_id", messageID).Msg("failed to write payload")
		return common.ErrStoreUnavailable
	}
	return nil
}

func (bs *BoltStore) Get(messageID string) ([]byte, error) {
	var data []byte
	err := bs.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketPayloads).Get([]byte(messageID))
		if len(val) == 0 {
			return ErrNotFound
		}
		if val[0] != formatV1 {
			return fmt.Errorf("unknown payload format %d", val[0])
		}
		// val is only valid inside the tx
		data = append([]byte{}, val[1:]...)
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		log.Error().Err(err).Str("message_id", messageID).Msg("failed to read payload")
		return nil, common.ErrStoreUnavailable
	}
	return data, nil
}

func (bs *BoltStore) Has(messageID string) (bool, error) {
	var found bool
	err := bs.db.View(func(tx *bbolt.Tx) error {
		found = len(tx.Bucket(bucketPayloads).Get([]byte(messageID))) > 0
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("message_id", messageID).Msg("failed to check payload")
		return false, common.ErrStoreUnavailable
	}
	return found, nil
}

func (bs *BoltStore) Delete(messageID string) error {
	err := bs.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPayloads).Delete([]byte(messageID))
	})
	if err != nil {
		log.Error().Err(err).Str("message_id", messageID).Msg("failed to delete payload")
		return common.ErrStoreUnavailable
	}
	return nil
}

func (bs *BoltStore) Close() error {
	return bs.db.Close()
}
