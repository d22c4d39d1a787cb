// Package badgerdoc is an embedded docstore.Client on top of BadgerDB.
//
// Key layout:
//
//	doc\x00<partition>\x00<id>  ->  JSON envelope (docstore.Marshal)
//
// A partition-scoped query is a prefix scan over doc\x00<partition>\x00; a
// cross-partition query scans doc\x00.
package badgerdoc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/danghamo/docidentity/internal/docstore"
	"github.com/danghamo/docidentity/pkg/logger"
)

const (
	prefixDoc = "doc\x00"
	sep       = "\x00"

	// maxTxnRetries bounds retries after badger reports a read/write conflict.
	maxTxnRetries = 10
)

func keyDoc(partition, id string) []byte {
	return []byte(prefixDoc + partition + sep + id)
}

func keyPartitionPrefix(partition string) []byte {
	return []byte(prefixDoc + partition + sep)
}

// Config configures the badger database.
type Config struct {
	Dir      string
	InMemory bool
}

// Client implements docstore.Client over BadgerDB.
type Client struct {
	db     *badger.DB
	logger *logger.Logger
	now    func() time.Time
}

var _ docstore.Client = (*Client)(nil)

// Open opens (or creates) the database described by cfg.
func Open(cfg Config, log *logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.NewNop()
	}

	opts := badger.DefaultOptions(cfg.Dir).WithLogger(nil)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", cfg.Dir, err)
	}

	log = log.WithComponent("badgerdoc")
	log.Info("Badger document store opened", zap.String("dir", cfg.Dir), zap.Bool("in_memory", cfg.InMemory))

	return &Client{db: db, logger: log, now: time.Now}, nil
}

// update runs fn in a read-write transaction, retrying when a concurrent
// transaction touched the same keys.
func (c *Client) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		err = c.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func readDoc(txn *badger.Txn, partition, id string) (*docstore.Document, error) {
	item, err := txn.Get(keyDoc(partition, id))
	if err == badger.ErrKeyNotFound {
		return nil, docstore.NotFoundError(partition, id)
	}
	if err != nil {
		return nil, err
	}
	var doc *docstore.Document
	err = item.Value(func(val []byte) error {
		var decodeErr error
		doc, decodeErr = docstore.Unmarshal(val)
		return decodeErr
	})
	return doc, err
}

func writeDoc(txn *badger.Txn, doc *docstore.Document) error {
	data, err := docstore.Marshal(doc)
	if err != nil {
		return err
	}
	return txn.Set(keyDoc(doc.Partition, doc.ID), data)
}

// Create implements docstore.Client.
func (c *Client) Create(ctx context.Context, doc *docstore.Document) (*docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stored := docstore.PrepareCreate(doc, c.now())

	err := c.update(func(txn *badger.Txn) error {
		_, err := txn.Get(keyDoc(stored.Partition, stored.ID))
		if err == nil {
			return docstore.ConflictError(stored.Partition, stored.ID)
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		return writeDoc(txn, stored)
	})
	if err != nil {
		return nil, wrap(err, "create", stored.Partition, stored.ID)
	}

	c.logger.Debug("Document created", zap.String("partition", stored.Partition), zap.String("id", stored.ID), zap.String("kind", stored.Kind))
	return stored, nil
}

// Read implements docstore.Client.
func (c *Client) Read(ctx context.Context, partition, id string) (*docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var doc *docstore.Document
	err := c.db.View(func(txn *badger.Txn) error {
		var err error
		doc, err = readDoc(txn, partition, id)
		return err
	})
	if err != nil {
		return nil, wrap(err, "read", partition, id)
	}
	return doc, nil
}

// Replace implements docstore.Client.
func (c *Client) Replace(ctx context.Context, doc *docstore.Document) (*docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var stored *docstore.Document
	err := c.update(func(txn *badger.Txn) error {
		prev, err := readDoc(txn, doc.Partition, doc.ID)
		if err != nil {
			return err
		}
		stored = docstore.PrepareReplace(doc, prev, c.now())
		return writeDoc(txn, stored)
	})
	if err != nil {
		return nil, wrap(err, "replace", doc.Partition, doc.ID)
	}

	c.logger.Debug("Document replaced", zap.String("partition", doc.Partition), zap.String("id", doc.ID))
	return stored, nil
}

// Delete implements docstore.Client.
func (c *Client) Delete(ctx context.Context, partition, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := c.update(func(txn *badger.Txn) error {
		key := keyDoc(partition, id)
		if _, err := txn.Get(key); err == badger.ErrKeyNotFound {
			return docstore.NotFoundError(partition, id)
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if err != nil {
		return wrap(err, "delete", partition, id)
	}

	c.logger.Debug("Document deleted", zap.String("partition", partition), zap.String("id", id))
	return nil
}

// Query implements docstore.Client.
func (c *Client) Query(ctx context.Context, q docstore.Query) ([]*docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	prefix := []byte(prefixDoc)
	if !q.CrossPartition {
		prefix = keyPartitionPrefix(q.Partition)
	}

	var docs []*docstore.Document
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			doc, err := docstore.Unmarshal(val)
			if err != nil {
				return err
			}
			if q.Matches(doc) {
				docs = append(docs, doc)
			}
		}
		return nil
	})
	if err != nil {
		return nil, docstore.StoreError(err, "query", q.Partition, "")
	}

	docstore.Sort(docs)
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

// Close implements docstore.Client.
func (c *Client) Close() error {
	c.logger.Info("Closing badger document store")
	return c.db.Close()
}

// wrap passes docstore sentinels through and attaches context to anything else.
func wrap(err error, op, partition, id string) error {
	if docstore.IsNotFound(err) || docstore.IsConflict(err) {
		return err
	}
	if errors.Is(err, badger.ErrConflict) {
		return docstore.ConflictError(partition, id)
	}
	return docstore.StoreError(err, op, partition, id)
}
