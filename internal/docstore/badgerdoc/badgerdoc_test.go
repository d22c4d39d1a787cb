package badgerdoc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/docidentity/internal/docstore"
	"github.com/danghamo/docidentity/internal/docstore/storetest"
)

func TestConformance(t *testing.T) {
	storetest.RunConformanceSuite(t, func(t *testing.T) docstore.Client {
		c, err := Open(Config{InMemory: true}, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
		return c
	})
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	c, err := Open(Config{Dir: dir}, nil)
	require.NoError(t, err)
	_, err = c.Create(context.Background(), &docstore.Document{
		ID: "u1", Partition: "u1", Kind: "User", Body: []byte(`{"userName":"alice"}`),
	})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c, err = Open(Config{Dir: dir}, nil)
	require.NoError(t, err)
	defer c.Close()

	got, err := c.Read(context.Background(), "u1", "u1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"userName":"alice"}`, string(got.Body))
}

func TestPartitionPrefixIsolation(t *testing.T) {
	c, err := Open(Config{InMemory: true}, nil)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	// "ab" must not leak into a scan of partition "a".
	_, err = c.Create(ctx, &docstore.Document{ID: "x", Partition: "a", Kind: "User", Body: []byte(`{}`)})
	require.NoError(t, err)
	_, err = c.Create(ctx, &docstore.Document{ID: "y", Partition: "ab", Kind: "User", Body: []byte(`{}`)})
	require.NoError(t, err)

	docs, err := c.Query(ctx, docstore.Query{Partition: "a"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "x", docs[0].ID)
}
