package keys

import (
	"encoding/base64"
	"encoding/hex"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

// Store keeps wallet key material encrypted at rest in Badger. Encryption
// comes from Badger's own value-log encryption when a key is supplied.
type Store struct {
	db *badger.DB
}

// StoreOptions configure OpenStore.
type StoreOptions struct {
	Path          string
	EncryptionKey []byte // 32 bytes; nil opens the DB unencrypted
	ReadOnly      bool
}

// ParseKey decodes a store encryption key given as hex or base64 and
// enforces the 32-byte length Badger expects for AES-256.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("keys: empty encryption key")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		b, err = base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, errors.New("keys: encryption key is neither hex nor base64")
		}
	}
	if len(b) != 32 {
		return nil, errors.Errorf("keys: encryption key must be 32 bytes, got %d", len(b))
	}
	return b, nil
}

// OpenStore opens (or creates) the keystore at opts.Path.
func OpenStore(opts StoreOptions) (*Store, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("keys: store path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithReadOnly(opts.ReadOnly)
	if len(opts.EncryptionKey) > 0 {
		// Badger requires an index cache for encrypted workloads.
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(100 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, errors.Wrap(err, "keys: open store")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// PutKeypair stores a keypair's secret under name.
func (s *Store) PutKeypair(name string, kp *Keypair) error {
	if s == nil || s.db == nil {
		return errors.New("keys: store not opened")
	}
	if strings.TrimSpace(name) == "" {
		return errors.New("keys: name is empty")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("keypair/"+name), kp.Bytes())
	})
}

// GetKeypair loads the keypair stored under name. Returns (nil, nil) when
// absent.
func (s *Store) GetKeypair(name string) (*Keypair, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("keys: store not opened")
	}
	var secret []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("keypair/" + name))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		secret, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	if secret == nil {
		return nil, nil
	}
	return FromBytes(secret)
}
