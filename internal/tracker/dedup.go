package tracker

import (
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

// Dedup remembers processed transaction signatures so restarts and the
// poll/subscribe overlap never replay a trade. Entries expire after TTL.
type Dedup struct {
	db  *badger.DB
	ttl time.Duration
}

// OpenDedup opens the signature store at path. An empty path opens an
// in-memory store (useful for tests and dry runs).
func OpenDedup(path string, ttl time.Duration) (*Dedup, error) {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	var opts badger.Options
	if strings.TrimSpace(path) == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, errors.Wrap(err, "tracker: open dedup store")
	}
	return &Dedup{db: db, ttl: ttl}, nil
}

// Close releases the store.
func (d *Dedup) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Forget releases a claimed signature so a later poll can retry it. Used
// when the transaction fetch fails after Mark already claimed the signature.
func (d *Dedup) Forget(sig string) {
	err := d.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(sig))
	})
	if err != nil {
		log.Errorf("dedup forget %s: %v", sig, err)
	}
}

// Seen reports whether sig was already processed.
func (d *Dedup) Seen(sig string) bool {
	found := false
	_ = d.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(sig))
		found = err == nil
		return nil
	})
	return found
}

// Mark records sig as processed. Returns true when the signature was new.
func (d *Dedup) Mark(sig string) bool {
	fresh := false
	err := d.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(sig)); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		fresh = true
		e := badger.NewEntry([]byte(sig), nil).WithTTL(d.ttl)
		return txn.SetEntry(e)
	})
	if err != nil {
		log.Errorf("dedup mark %s: %v", sig, err)
		return false
	}
	return fresh
}
