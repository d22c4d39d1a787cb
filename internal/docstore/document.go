// Package docstore defines the partitioned document collection the identity
// stores persist into, plus the helpers shared by its backends.
package docstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/danghamo/docidentity/internal/domain/shared"
)

// Document is one stored record. ID is unique within Partition; Kind is the
// discriminator that lets several record types share one collection.
type Document struct {
	ID         string          `json:"id"`
	Partition  string          `json:"partition"`
	Kind       string          `json:"type"`
	ResourceID string          `json:"_rid,omitempty"`
	UpdatedAt  time.Time       `json:"_ts"`
	Body       json.RawMessage `json:"body"`
}

// NewDocument marshals v as the body of a document addressed by (partition, id).
func NewDocument(partition, id, kind string, v any) (*Document, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Document{ID: id, Partition: partition, Kind: kind, Body: body}, nil
}

// Decode unmarshals the document body into v.
func (d *Document) Decode(v any) error {
	return json.Unmarshal(d.Body, v)
}

// Clone returns a deep copy so backends never share body bytes with callers.
func (d *Document) Clone() *Document {
	c := *d
	c.Body = append(json.RawMessage(nil), d.Body...)
	return &c
}

// Client is the document collection contract. Every call is one round trip;
// implementations must be safe for concurrent use.
type Client interface {
	// Create stores doc. An empty ID is replaced by a generated one and an empty
	// Partition defaults to the ID. Fails with ErrConflict when (Partition, ID)
	// is taken.
	Create(ctx context.Context, doc *Document) (*Document, error)
	// Read returns the document or ErrNotFound.
	Read(ctx context.Context, partition, id string) (*Document, error)
	// Replace overwrites an existing document or fails with ErrNotFound.
	Replace(ctx context.Context, doc *Document) (*Document, error)
	// Delete removes a document or fails with ErrNotFound.
	Delete(ctx context.Context, partition, id string) error
	// Query returns the documents matching q, scoped to q.Partition unless
	// q.CrossPartition is set.
	Query(ctx context.Context, q Query) ([]*Document, error)
	Close() error
}

// PrepareCreate fills the system fields a backend assigns on insert.
func PrepareCreate(doc *Document, now time.Time) *Document {
	c := doc.Clone()
	if c.ID == "" {
		c.ID = shared.NewID().String()
	}
	if c.Partition == "" {
		c.Partition = c.ID
	}
	c.ResourceID = ksuid.New().String()
	c.UpdatedAt = now.UTC()
	return c
}

// PrepareReplace carries the resource id of the stored version over to the replacement.
func PrepareReplace(doc *Document, stored *Document, now time.Time) *Document {
	c := doc.Clone()
	c.ResourceID = stored.ResourceID
	c.UpdatedAt = now.UTC()
	return c
}

// Marshal encodes the full envelope (system fields plus body) for byte-oriented backends.
func Marshal(doc *Document) ([]byte, error) {
	return json.Marshal(doc)
}

// Unmarshal decodes an envelope written by Marshal.
func Unmarshal(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
