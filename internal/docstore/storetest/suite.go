// Package storetest holds the behavioural suite every docstore backend must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/docidentity/internal/docstore"
)

// ClientFactory creates a fresh, empty client for each test. Factories use
// t.Cleanup for teardown.
type ClientFactory func(t *testing.T) docstore.Client

// RunConformanceSuite runs the full conformance suite against the factory.
//
//   - CRUD: create/read/replace/delete and their not-found and conflict paths
//   - Query: partition scoping, cross-partition scans, kind and body predicates
//   - Concurrency: racing creates on one address resolve to exactly one winner
func RunConformanceSuite(t *testing.T, factory ClientFactory) {
	t.Helper()

	t.Run("CRUD", func(t *testing.T) { runCRUDTests(t, factory) })
	t.Run("Query", func(t *testing.T) { runQueryTests(t, factory) })
	t.Run("Concurrency", func(t *testing.T) { runConcurrencyTests(t, factory) })
}

func runCRUDTests(t *testing.T, factory ClientFactory) {
	t.Run("CreateAssignsIDs", func(t *testing.T) { testCreateAssignsIDs(t, factory) })
	t.Run("CreateThenRead", func(t *testing.T) { testCreateThenRead(t, factory) })
	t.Run("CreateConflict", func(t *testing.T) { testCreateConflict(t, factory) })
	t.Run("SameIDDifferentPartition", func(t *testing.T) { testSameIDDifferentPartition(t, factory) })
	t.Run("ReadMissing", func(t *testing.T) { testReadMissing(t, factory) })
	t.Run("Replace", func(t *testing.T) { testReplace(t, factory) })
	t.Run("ReplaceMissing", func(t *testing.T) { testReplaceMissing(t, factory) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory) })
	t.Run("CancelledContext", func(t *testing.T) { testCancelledContext(t, factory) })
}

func runQueryTests(t *testing.T, factory ClientFactory) {
	t.Run("PartitionScoped", func(t *testing.T) { testQueryPartitionScoped(t, factory) })
	t.Run("CrossPartitionByKind", func(t *testing.T) { testQueryCrossPartitionByKind(t, factory) })
	t.Run("Predicates", func(t *testing.T) { testQueryPredicates(t, factory) })
	t.Run("Limit", func(t *testing.T) { testQueryLimit(t, factory) })
	t.Run("RequiresScope", func(t *testing.T) { testQueryRequiresScope(t, factory) })
	t.Run("DeletedNotReturned", func(t *testing.T) { testQueryDeletedNotReturned(t, factory) })
}

func runConcurrencyTests(t *testing.T, factory ClientFactory) {
	t.Run("RacingCreates", func(t *testing.T) { testRacingCreates(t, factory) })
}

func mustCreate(t *testing.T, c docstore.Client, partition, id, kind, body string) *docstore.Document {
	t.Helper()
	doc, err := c.Create(context.Background(), &docstore.Document{
		ID: id, Partition: partition, Kind: kind, Body: []byte(body),
	})
	require.NoError(t, err)
	return doc
}

func testCreateAssignsIDs(t *testing.T, factory ClientFactory) {
	c := factory(t)

	doc, err := c.Create(context.Background(), &docstore.Document{Kind: "User", Body: []byte(`{}`)})
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, doc.ID, doc.Partition, "partition should default to the generated id")
	assert.NotEmpty(t, doc.ResourceID)
	assert.False(t, doc.UpdatedAt.IsZero())
}

func testCreateThenRead(t *testing.T, factory ClientFactory) {
	c := factory(t)
	created := mustCreate(t, c, "p1", "d1", "User", `{"userName":"alice"}`)

	got, err := c.Read(context.Background(), "p1", "d1")
	require.NoError(t, err)
	assert.Equal(t, "d1", got.ID)
	assert.Equal(t, "p1", got.Partition)
	assert.Equal(t, "User", got.Kind)
	assert.Equal(t, created.ResourceID, got.ResourceID)
	assert.JSONEq(t, `{"userName":"alice"}`, string(got.Body))
}

func testCreateConflict(t *testing.T, factory ClientFactory) {
	c := factory(t)
	mustCreate(t, c, "ALICE", "user-by-username", "user-by-username", `{"targetId":"1"}`)

	_, err := c.Create(context.Background(), &docstore.Document{
		ID: "user-by-username", Partition: "ALICE", Kind: "user-by-username", Body: []byte(`{"targetId":"2"}`),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, docstore.ErrConflict)

	got, err := c.Read(context.Background(), "ALICE", "user-by-username")
	require.NoError(t, err)
	assert.JSONEq(t, `{"targetId":"1"}`, string(got.Body), "first writer should survive")
}

func testSameIDDifferentPartition(t *testing.T, factory ClientFactory) {
	c := factory(t)
	mustCreate(t, c, "ADMIN", "user-by-username", "user-by-username", `{"targetId":"u"}`)
	mustCreate(t, c, "ADMIN", "role-by-name", "role-by-name", `{"targetId":"r"}`)
	mustCreate(t, c, "OTHER", "user-by-username", "user-by-username", `{"targetId":"o"}`)

	got, err := c.Read(context.Background(), "ADMIN", "role-by-name")
	require.NoError(t, err)
	assert.JSONEq(t, `{"targetId":"r"}`, string(got.Body))
}

func testReadMissing(t *testing.T, factory ClientFactory) {
	c := factory(t)
	mustCreate(t, c, "p1", "d1", "User", `{}`)

	_, err := c.Read(context.Background(), "p1", "nope")
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	_, err = c.Read(context.Background(), "p2", "d1")
	assert.ErrorIs(t, err, docstore.ErrNotFound, "ids are only unique within a partition")
}

func testReplace(t *testing.T, factory ClientFactory) {
	c := factory(t)
	created := mustCreate(t, c, "p1", "d1", "User", `{"v":1}`)

	replaced, err := c.Replace(context.Background(), &docstore.Document{
		ID: "d1", Partition: "p1", Kind: "User", Body: []byte(`{"v":2}`),
	})
	require.NoError(t, err)
	assert.Equal(t, created.ResourceID, replaced.ResourceID)

	got, err := c.Read(context.Background(), "p1", "d1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got.Body))
}

func testReplaceMissing(t *testing.T, factory ClientFactory) {
	c := factory(t)
	_, err := c.Replace(context.Background(), &docstore.Document{
		ID: "d1", Partition: "p1", Kind: "User", Body: []byte(`{}`),
	})
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func testDelete(t *testing.T, factory ClientFactory) {
	c := factory(t)
	mustCreate(t, c, "p1", "d1", "User", `{}`)

	require.NoError(t, c.Delete(context.Background(), "p1", "d1"))

	_, err := c.Read(context.Background(), "p1", "d1")
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	err = c.Delete(context.Background(), "p1", "d1")
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	// Address is reusable after delete.
	mustCreate(t, c, "p1", "d1", "User", `{}`)
}

func testCancelledContext(t *testing.T, factory ClientFactory) {
	c := factory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Create(ctx, &docstore.Document{ID: "d1", Partition: "p1", Kind: "User", Body: []byte(`{}`)})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = c.Read(context.Background(), "p1", "d1")
	assert.ErrorIs(t, err, docstore.ErrNotFound, "a cancelled create must not write")
}

func testQueryPartitionScoped(t *testing.T, factory ClientFactory) {
	c := factory(t)
	mustCreate(t, c, "p1", "a", "User", `{}`)
	mustCreate(t, c, "p1", "b", "Role", `{}`)
	mustCreate(t, c, "p2", "c", "User", `{}`)

	docs, err := c.Query(context.Background(), docstore.Query{Partition: "p1"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "b", docs[1].ID)

	docs, err = c.Query(context.Background(), docstore.Query{Partition: "p1", Kind: "User"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0].ID)
}

func testQueryCrossPartitionByKind(t *testing.T, factory ClientFactory) {
	c := factory(t)
	mustCreate(t, c, "u1", "u1", "User", `{}`)
	mustCreate(t, c, "u2", "u2", "User", `{}`)
	mustCreate(t, c, "r1", "r1", "Role", `{}`)
	mustCreate(t, c, "ALICE", "user-by-username", "user-by-username", `{"targetId":"u1"}`)

	users, err := c.Query(context.Background(), docstore.Query{CrossPartition: true, Kind: "User"})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "u1", users[0].ID)
	assert.Equal(t, "u2", users[1].ID)

	all, err := c.Query(context.Background(), docstore.Query{CrossPartition: true})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func testQueryPredicates(t *testing.T, factory ClientFactory) {
	c := factory(t)
	mustCreate(t, c, "u1", "u1", "User", `{"roles":["ADMIN"],"claims":[{"type":"dept","value":"eng"}]}`)
	mustCreate(t, c, "u2", "u2", "User", `{"roles":["EDITOR"],"claims":[{"type":"dept","value":"ops"}]}`)

	docs, err := c.Query(context.Background(), docstore.Query{
		CrossPartition: true,
		Kind:           "User",
		Where:          []docstore.Condition{docstore.Contains("roles", "ADMIN")},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "u1", docs[0].ID)

	docs, err = c.Query(context.Background(), docstore.Query{
		CrossPartition: true,
		Kind:           "User",
		Where:          []docstore.Condition{docstore.Any("claims", map[string]string{"type": "dept", "value": "ops"})},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "u2", docs[0].ID)
}

func testQueryLimit(t *testing.T, factory ClientFactory) {
	c := factory(t)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("u%d", i)
		mustCreate(t, c, id, id, "User", `{}`)
	}

	docs, err := c.Query(context.Background(), docstore.Query{CrossPartition: true, Kind: "User", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func testQueryRequiresScope(t *testing.T, factory ClientFactory) {
	c := factory(t)
	_, err := c.Query(context.Background(), docstore.Query{Kind: "User"})
	assert.ErrorIs(t, err, docstore.ErrInvalidQuery)
}

func testQueryDeletedNotReturned(t *testing.T, factory ClientFactory) {
	c := factory(t)
	mustCreate(t, c, "u1", "u1", "User", `{}`)
	mustCreate(t, c, "u2", "u2", "User", `{}`)
	require.NoError(t, c.Delete(context.Background(), "u1", "u1"))

	docs, err := c.Query(context.Background(), docstore.Query{CrossPartition: true, Kind: "User"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "u2", docs[0].ID)
}

func testRacingCreates(t *testing.T, factory ClientFactory) {
	c := factory(t)
	const writers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Create(context.Background(), &docstore.Document{
				ID: "user-by-email", Partition: "A@X.COM", Kind: "user-by-email",
				Body: []byte(fmt.Sprintf(`{"targetId":"%d"}`, i)),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case docstore.IsConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)
}
