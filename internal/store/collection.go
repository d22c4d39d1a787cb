package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/docidentity/internal/docstore"
	"github.com/danghamo/docidentity/internal/domain/identity"
	"github.com/danghamo/docidentity/internal/domain/shared"
	"github.com/danghamo/docidentity/internal/metrics"
	"github.com/danghamo/docidentity/pkg/logger"
)

// collection reads and writes primary records of one kind. The record id is
// both the document id and its partition.
type collection struct {
	client  docstore.Client
	kind    identity.Kind
	logger  *logger.Logger
	metrics *metrics.StoreMetrics
}

func newCollection(client docstore.Client, kind identity.Kind, log *logger.Logger, m *metrics.StoreMetrics) *collection {
	return &collection{
		client:  client,
		kind:    kind,
		logger:  log,
		metrics: m,
	}
}

func (c *collection) create(ctx context.Context, id string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc, err := docstore.NewDocument(id, id, c.kind.String(), v)
	if err != nil {
		return err
	}
	_, err = c.client.Create(ctx, doc)
	return err
}

func (c *collection) replace(ctx context.Context, id string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc, err := docstore.NewDocument(id, id, c.kind.String(), v)
	if err != nil {
		return err
	}
	_, err = c.client.Replace(ctx, doc)
	return err
}

func (c *collection) delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.client.Delete(ctx, id, id)
}

// read returns the document stored under id, or nil when it is absent or
// holds another kind.
func (c *collection) read(ctx context.Context, id string) (*docstore.Document, error) {
	if id == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err := c.client.Read(ctx, id, id)
	if docstore.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if doc.Kind != c.kind.String() {
		c.logger.Debug("Document holds another kind",
			zap.String("id", id), zap.String("want", c.kind.String()), zap.String("got", doc.Kind))
		return nil, nil
	}
	return doc, nil
}

// readExisting is read for writes: a missing record is an error.
func (c *collection) readExisting(ctx context.Context, id string) (*docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := c.client.Read(ctx, id, id)
	if err != nil {
		return nil, err
	}
	if doc.Kind != c.kind.String() {
		return nil, shared.NewDomainErrorf(shared.ErrCodeWrongKind,
			"document %s is a %s, not a %s", id, doc.Kind, c.kind)
	}
	return doc, nil
}

// scan runs a cross-partition query over this kind.
func (c *collection) scan(ctx context.Context, limit int, where ...docstore.Condition) ([]*docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.client.Query(ctx, docstore.Query{
		CrossPartition: true,
		Kind:           c.kind.String(),
		Where:          where,
		Limit:          limit,
	})
}

func (c *collection) observe(op string, start time.Time, err error) {
	c.metrics.ObserveOperation(c.kind.String(), op, time.Since(start), err)
}

// decode unmarshals a document body into a fresh *T.
func decode[T any, PT interface{ *T }](doc *docstore.Document) (PT, error) {
	if doc == nil {
		return nil, nil
	}
	var v T
	pt := PT(&v)
	if err := doc.Decode(pt); err != nil {
		return nil, err
	}
	return pt, nil
}

func decodeAll[T any, PT interface{ *T }](docs []*docstore.Document) ([]PT, error) {
	out := make([]PT, 0, len(docs))
	for _, doc := range docs {
		v, err := decode[T, PT](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
