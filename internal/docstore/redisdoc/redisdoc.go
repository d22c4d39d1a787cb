// Package redisdoc is a docstore.Client that keeps one collection in Redis.
//
// Key layout for collection <c>:
//
//	<c>:doc:<len(p)>:<p>:<id>   hash {data: JSON envelope, type: kind}
//	<c>:part:<len(p)>:<p>       set of ids in partition p
//	<c>:kind:<kind>             set of doc keys of that kind
//	<c>:docs                    set of every doc key
//
// The partition length prefix keeps keys unambiguous when partitions contain ':'.
// Writes use WATCH on the doc key and a MULTI pipeline for the index sets.
package redisdoc

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/danghamo/docidentity/internal/docstore"
	"github.com/danghamo/docidentity/pkg/redisx"
)

const (
	fieldData = "data"
	fieldType = "type"

	collectionsKey = "docidentity:collections"

	maxWatchRetries = 10
)

// Client implements docstore.Client over a redisx.Client.
type Client struct {
	rdb        *redisx.Client
	collection string
	now        func() time.Time
}

var _ docstore.Client = (*Client)(nil)

// New binds a client to one collection. The collection is registered in
// docidentity:collections so operators can discover it.
func New(ctx context.Context, rdb *redisx.Client, collection string) (*Client, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection name cannot be empty")
	}
	c := &Client{rdb: rdb, collection: collection, now: time.Now}

	start := time.Now()
	err := rdb.SAdd(ctx, collectionsKey, collection).Err()
	rdb.Observe("sadd", start, err, zap.String("collection", collection))
	if err != nil {
		return nil, fmt.Errorf("failed to register collection %q: %w", collection, err)
	}
	return c, nil
}

func (c *Client) keyDoc(partition, id string) string {
	return c.collection + ":doc:" + strconv.Itoa(len(partition)) + ":" + partition + ":" + id
}

func (c *Client) keyPartition(partition string) string {
	return c.collection + ":part:" + strconv.Itoa(len(partition)) + ":" + partition
}

func (c *Client) keyKind(kind string) string {
	return c.collection + ":kind:" + kind
}

func (c *Client) keyAll() string {
	return c.collection + ":docs"
}

// watch runs fn under WATCH keys, retrying when another client touched them first.
func (c *Client) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	var err error
	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err = c.rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

// Create implements docstore.Client.
func (c *Client) Create(ctx context.Context, doc *docstore.Document) (*docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stored := docstore.PrepareCreate(doc, c.now())
	payload, err := docstore.Marshal(stored)
	if err != nil {
		return nil, err
	}
	key := c.keyDoc(stored.Partition, stored.ID)

	start := time.Now()
	err = c.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return docstore.ConflictError(stored.Partition, stored.ID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldData, payload, fieldType, stored.Kind)
			pipe.SAdd(ctx, c.keyPartition(stored.Partition), stored.ID)
			pipe.SAdd(ctx, c.keyAll(), key)
			if stored.Kind != "" {
				pipe.SAdd(ctx, c.keyKind(stored.Kind), key)
			}
			return nil
		})
		return err
	}, key)
	c.rdb.Observe("create", start, err, zap.String("key", key))
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, docstore.ConflictError(stored.Partition, stored.ID)
		}
		return nil, wrap(err, "create", stored.Partition, stored.ID)
	}
	return stored, nil
}

// Read implements docstore.Client.
func (c *Client) Read(ctx context.Context, partition, id string) (*docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := c.keyDoc(partition, id)

	start := time.Now()
	data, err := c.rdb.HGet(ctx, key, fieldData).Bytes()
	c.rdb.Observe("read", start, err, zap.String("key", key))
	if err == redis.Nil {
		return nil, docstore.NotFoundError(partition, id)
	}
	if err != nil {
		return nil, wrap(err, "read", partition, id)
	}
	return docstore.Unmarshal(data)
}

// Replace implements docstore.Client.
func (c *Client) Replace(ctx context.Context, doc *docstore.Document) (*docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := c.keyDoc(doc.Partition, doc.ID)

	var stored *docstore.Document
	start := time.Now()
	err := c.watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.HGet(ctx, key, fieldData).Bytes()
		if err == redis.Nil {
			return docstore.NotFoundError(doc.Partition, doc.ID)
		}
		if err != nil {
			return err
		}
		prev, err := docstore.Unmarshal(data)
		if err != nil {
			return err
		}
		stored = docstore.PrepareReplace(doc, prev, c.now())
		payload, err := docstore.Marshal(stored)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldData, payload, fieldType, stored.Kind)
			if prev.Kind != stored.Kind {
				if prev.Kind != "" {
					pipe.SRem(ctx, c.keyKind(prev.Kind), key)
				}
				if stored.Kind != "" {
					pipe.SAdd(ctx, c.keyKind(stored.Kind), key)
				}
			}
			return nil
		})
		return err
	}, key)
	c.rdb.Observe("replace", start, err, zap.String("key", key))
	if err != nil {
		return nil, wrap(err, "replace", doc.Partition, doc.ID)
	}
	return stored, nil
}

// Delete implements docstore.Client.
func (c *Client) Delete(ctx context.Context, partition, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := c.keyDoc(partition, id)

	start := time.Now()
	err := c.watch(ctx, func(tx *redis.Tx) error {
		kind, err := tx.HGet(ctx, key, fieldType).Result()
		if err == redis.Nil {
			return docstore.NotFoundError(partition, id)
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, c.keyPartition(partition), id)
			pipe.SRem(ctx, c.keyAll(), key)
			if kind != "" {
				pipe.SRem(ctx, c.keyKind(kind), key)
			}
			return nil
		})
		return err
	}, key)
	c.rdb.Observe("delete", start, err, zap.String("key", key))
	if err != nil {
		return wrap(err, "delete", partition, id)
	}
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

	start := time.Now()
	keys, err := c.candidateKeys(ctx, q)
	c.rdb.Observe("query-keys", start, err, zap.Int("candidates", len(keys)))
	if err != nil {
		return nil, wrap(err, "query", q.Partition, "")
	}
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.StringCmd, len(keys))
	_, err = c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.HGet(ctx, key, fieldData)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, wrap(err, "query", q.Partition, "")
	}

	var docs []*docstore.Document
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err == redis.Nil {
			// deleted between the index read and the fetch
			continue
		}
		if err != nil {
			return nil, wrap(err, "query", q.Partition, "")
		}
		doc, err := docstore.Unmarshal(data)
		if err != nil {
			return nil, err
		}
		if q.Matches(doc) {
			docs = append(docs, doc)
		}
	}

	docstore.Sort(docs)
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

func (c *Client) candidateKeys(ctx context.Context, q docstore.Query) ([]string, error) {
	switch {
	case !q.CrossPartition:
		ids, err := c.rdb.SMembers(ctx, c.keyPartition(q.Partition)).Result()
		if err != nil {
			return nil, err
		}
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = c.keyDoc(q.Partition, id)
		}
		return keys, nil
	case q.Kind != "":
		return c.rdb.SMembers(ctx, c.keyKind(q.Kind)).Result()
	default:
		return c.rdb.SMembers(ctx, c.keyAll()).Result()
	}
}

// Drop deletes every key of the collection and unregisters it.
func (c *Client) Drop(ctx context.Context) error {
	start := time.Now()
	var deleted int64

	iter := c.rdb.Scan(ctx, 0, c.collection+":*", 500).Iterator()
	batch := make([]string, 0, 500)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.rdb.Del(ctx, batch...).Result()
		deleted += n
		batch = batch[:0]
		return err
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}

	err := c.rdb.SRem(ctx, collectionsKey, c.collection).Err()
	c.rdb.Observe("drop", start, err, zap.String("collection", c.collection), zap.Int64("deleted", deleted))
	return err
}

// Close implements docstore.Client. The shared redis connection is owned by
// the caller and stays open.
func (c *Client) Close() error {
	return nil
}

func wrap(err error, op, partition, id string) error {
	if docstore.IsNotFound(err) || docstore.IsConflict(err) {
		return err
	}
	return docstore.StoreError(err, op, partition, id)
}
