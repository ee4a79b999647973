package kv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/fluentlens/fluentlens/internal/config"
)

// maxConflictRetries bounds optimistic retries of read-modify-write updates.
const maxConflictRetries = 256

// Badger implements Store on an embedded Badger database. It is suitable for
// single-process deployments; accumulators are not shared across processes.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the embedded database described by cfg.
func OpenBadger(cfg config.BadgerConfig) (*Badger, error) {
	path := strings.TrimSpace(cfg.Path)
	if !cfg.InMemory && path == "" {
		return nil, errors.New("badger path is required")
	}

	opts := badger.DefaultOptions(path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	// Use a quiet logger; the service logger reports failures.
	opts = opts.WithLogger(nil).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Get(ctx context.Context, key string) (int64, bool, error) {
	if err := b.check(ctx); err != nil {
		return 0, false, err
	}

	var (
		value int64
		found bool
	)
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		value, err = readInt(item)
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("badger get %s: %w", key, err)
	}
	return value, found, nil
}

func (b *Badger) SetNX(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	if err := b.check(ctx); err != nil {
		return false, err
	}

	var stored bool
	err := b.update(ctx, func(txn *badger.Txn) error {
		stored = false
		_, err := txn.Get([]byte(key))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		entry := badger.NewEntry([]byte(key), encodeInt(value))
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		if err := txn.SetEntry(entry); err != nil {
			return err
		}
		stored = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("badger setnx %s: %w", key, err)
	}
	return stored, nil
}

func (b *Badger) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	if err := b.check(ctx); err != nil {
		return 0, err
	}

	var result int64
	err := b.update(ctx, func(txn *badger.Txn) error {
		var (
			current   int64
			expiresAt uint64
		)
		item, err := txn.Get([]byte(key))
		switch {
		case err == nil:
			current, err = readInt(item)
			if err != nil {
				return err
			}
			expiresAt = item.ExpiresAt()
		case errors.Is(err, badger.ErrKeyNotFound):
		default:
			return err
		}

		result = current + delta
		entry := badger.NewEntry([]byte(key), encodeInt(result))
		entry.ExpiresAt = expiresAt
		return txn.SetEntry(entry)
	})
	if err != nil {
		return 0, fmt.Errorf("badger incrby %s: %w", key, err)
	}
	return result, nil
}

func (b *Badger) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := b.check(ctx); err != nil {
		return err
	}

	err := b.update(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry([]byte(key), value).WithTTL(ttl))
	})
	if err != nil {
		return fmt.Errorf("badger expire %s: %w", key, err)
	}
	return nil
}

func (b *Badger) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	if err := b.check(ctx); err != nil {
		return 0, false, err
	}

	var expiresAt uint64
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		expiresAt = item.ExpiresAt()
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("badger ttl %s: %w", key, err)
	}
	if expiresAt == 0 {
		return 0, false, nil
	}

	remaining := time.Until(time.Unix(int64(expiresAt), 0))
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true, nil
}

func (b *Badger) Scan(ctx context.Context, prefix string) ([]string, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}

	keys := []string{}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger scan %s: %w", prefix, err)
	}
	return keys, nil
}

func (b *Badger) Delete(ctx context.Context, key string) error {
	if err := b.check(ctx); err != nil {
		return err
	}

	err := b.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("badger del %s: %w", key, err)
	}
	return nil
}

func (b *Badger) Ping(ctx context.Context) error {
	return b.check(ctx)
}

func (b *Badger) Close() error {
	if b == nil || b.db == nil || b.db.IsClosed() {
		return nil
	}
	return b.db.Close()
}

func (b *Badger) check(ctx context.Context) error {
	if b == nil || b.db == nil || b.db.IsClosed() {
		return ErrClosed
	}
	if ctx != nil {
		return ctx.Err()
	}
	return nil
}

// update runs fn in a read-write transaction, retrying on optimistic
// conflicts with concurrent writers of the same key.
func (b *Badger) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

func readInt(item *badger.Item) (int64, error) {
	var value int64
	err := item.Value(func(val []byte) error {
		parsed, err := strconv.ParseInt(string(val), 10, 64)
		if err != nil {
			return fmt.Errorf("value is not an integer: %w", err)
		}
		value = parsed
		return nil
	})
	return value, err
}

func encodeInt(v int64) []byte {
	return []byte(strconv.FormatInt(v, 10))
}
