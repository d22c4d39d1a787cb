// Package memdoc is an in-process docstore.Client backed by go-memdb. It is
// used by tests and by the "memory" backend for local runs.
package memdoc

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-memdb"
	"go.uber.org/zap"

	"github.com/danghamo/docidentity/internal/docstore"
	"github.com/danghamo/docidentity/pkg/logger"
)

const (
	tableDocuments = "documents"

	indexID        = "id" // compound (partition, id), unique
	indexPartition = "partition"
	indexKind      = "kind"
)

// record is the immutable row stored in memdb. Rows are never mutated after
// insert; replace inserts a fresh row.
type record struct {
	Partition string
	ID        string
	Kind      string
	Doc       *docstore.Document
}

// Schema returns the memdb schema for one document collection.
func Schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableDocuments: {
				Name: tableDocuments,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:   indexID,
						Unique: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "Partition"},
								&memdb.StringFieldIndex{Field: "ID"},
							},
						},
					},
					indexPartition: {
						Name:    indexPartition,
						Indexer: &memdb.StringFieldIndex{Field: "Partition"},
					},
					indexKind: {
						Name:         indexKind,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "Kind"},
					},
				},
			},
		},
	}
}

// Client implements docstore.Client over a memdb database.
type Client struct {
	db     *memdb.MemDB
	logger *logger.Logger
	now    func() time.Time
}

var _ docstore.Client = (*Client)(nil)

// New creates an empty in-memory collection.
func New(log *logger.Logger) (*Client, error) {
	db, err := memdb.NewMemDB(Schema())
	if err != nil {
		return nil, fmt.Errorf("failed to create memdb: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{db: db, logger: log.WithComponent("memdoc"), now: time.Now}, nil
}

// Create implements docstore.Client.
func (c *Client) Create(ctx context.Context, doc *docstore.Document) (*docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stored := docstore.PrepareCreate(doc, c.now())

	txn := c.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableDocuments, indexID, stored.Partition, stored.ID)
	if err != nil {
		return nil, docstore.StoreError(err, "create", stored.Partition, stored.ID)
	}
	if existing != nil {
		return nil, docstore.ConflictError(stored.Partition, stored.ID)
	}
	if err := txn.Insert(tableDocuments, toRecord(stored)); err != nil {
		return nil, docstore.StoreError(err, "create", stored.Partition, stored.ID)
	}
	txn.Commit()

	c.logger.Debug("Document created", zap.String("partition", stored.Partition), zap.String("id", stored.ID), zap.String("kind", stored.Kind))
	return stored.Clone(), nil
}

// Read implements docstore.Client.
func (c *Client) Read(ctx context.Context, partition, id string) (*docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txn := c.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableDocuments, indexID, partition, id)
	if err != nil {
		return nil, docstore.StoreError(err, "read", partition, id)
	}
	if raw == nil {
		return nil, docstore.NotFoundError(partition, id)
	}
	return raw.(*record).Doc.Clone(), nil
}

// Replace implements docstore.Client.
func (c *Client) Replace(ctx context.Context, doc *docstore.Document) (*docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txn := c.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableDocuments, indexID, doc.Partition, doc.ID)
	if err != nil {
		return nil, docstore.StoreError(err, "replace", doc.Partition, doc.ID)
	}
	if raw == nil {
		return nil, docstore.NotFoundError(doc.Partition, doc.ID)
	}
	stored := docstore.PrepareReplace(doc, raw.(*record).Doc, c.now())
	if err := txn.Insert(tableDocuments, toRecord(stored)); err != nil {
		return nil, docstore.StoreError(err, "replace", doc.Partition, doc.ID)
	}
	txn.Commit()

	c.logger.Debug("Document replaced", zap.String("partition", stored.Partition), zap.String("id", stored.ID))
	return stored.Clone(), nil
}

// Delete implements docstore.Client.
func (c *Client) Delete(ctx context.Context, partition, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := c.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableDocuments, indexID, partition, id)
	if err != nil {
		return docstore.StoreError(err, "delete", partition, id)
	}
	if raw == nil {
		return docstore.NotFoundError(partition, id)
	}
	if err := txn.Delete(tableDocuments, raw); err != nil {
		return docstore.StoreError(err, "delete", partition, id)
	}
	txn.Commit()

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

	txn := c.db.Txn(false)
	defer txn.Abort()

	var (
		it  memdb.ResultIterator
		err error
	)
	switch {
	case !q.CrossPartition:
		it, err = txn.Get(tableDocuments, indexPartition, q.Partition)
	case q.Kind != "":
		it, err = txn.Get(tableDocuments, indexKind, q.Kind)
	default:
		it, err = txn.Get(tableDocuments, indexID)
	}
	if err != nil {
		return nil, docstore.StoreError(err, "query", q.Partition, "")
	}

	var docs []*docstore.Document
	for raw := it.Next(); raw != nil; raw = it.Next() {
		doc := raw.(*record).Doc
		if q.Matches(doc) {
			docs = append(docs, doc.Clone())
		}
	}
	docstore.Sort(docs)
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

// Close implements docstore.Client. The data is dropped with the client.
func (c *Client) Close() error {
	return nil
}

func toRecord(doc *docstore.Document) *record {
	return &record{Partition: doc.Partition, ID: doc.ID, Kind: doc.Kind, Doc: doc}
}
