package badger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/poiesic/folio/storage"
)

// Cache is a content-addressed embedding cache backed by BadgerDB.
// Entries are keyed by embedding model and text, so identical text embedded
// with the same model is served without an external call.
type Cache struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL expires cache entries after ttl. Zero keeps entries forever.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

// WithLogger sets the logger used for cache and badger messages.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

// Infof logs at debug level.
func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// Open opens the cache at dir, creating the directory if needed.
// An empty dir opens an in-memory cache.
func Open(dir string, opts ...Option) (*Cache, error) {
	c := &Cache{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "embedding-cache")

	var bopts badger.Options
	if dir == "" {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := ensureDir(dir); err != nil {
			return nil, err
		}
		bopts = badger.DefaultOptions(dir)
	}
	bopts.Logger = &badgerLoggerAdapter{logger: c.logger}
	bopts.Compression = options.None

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	c.db = db
	return c, nil
}

func ensureDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		return nil
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

// Close closes the cache.
func (c *Cache) Close() error {
	if c.db.IsClosed() {
		return nil
	}
	return c.db.Close()
}

// IsClosed returns true if the cache is closed.
func (c *Cache) IsClosed() bool {
	return c.db.IsClosed()
}

// Get returns the cached vector for text embedded with model.
// Returns storage.ErrNotFound on a miss.
func (c *Cache) Get(model, text string) ([]float32, error) {
	if c.db.IsClosed() {
		return nil, storage.ErrStorageClosed
	}
	var vector []float32
	err := c.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(makeEmbeddingKey(model, text))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var err error
			vector, err = unmarshalVector(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return vector, nil
}

// Put stores vector as the embedding of text under model.
func (c *Cache) Put(model, text string, vector []float32) error {
	if c.db.IsClosed() {
		return storage.ErrStorageClosed
	}
	if len(vector) == 0 {
		return storage.ErrInvalidQuery
	}
	entry := badger.NewEntry(makeEmbeddingKey(model, text), marshalVector(vector))
	if c.ttl > 0 {
		entry = entry.WithTTL(c.ttl)
	}
	return c.db.Update(func(tx *badger.Txn) error {
		return tx.SetEntry(entry)
	})
}

// Count returns the number of live entries in the cache.
func (c *Cache) Count() (int, error) {
	if c.db.IsClosed() {
		return 0, storage.ErrStorageClosed
	}
	n := 0
	err := c.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(embeddingPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Purge removes every cached embedding produced by model.
func (c *Cache) Purge(model string) (int, error) {
	if c.db.IsClosed() {
		return 0, storage.ErrStorageClosed
	}
	prefix := makeModelPrefix(model)
	var keys [][]byte
	err := c.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			keys = append(keys, iter.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	wb := c.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}
	c.logger.Info("purged cached embeddings", "model", model, "count", len(keys))
	return len(keys), nil
}
