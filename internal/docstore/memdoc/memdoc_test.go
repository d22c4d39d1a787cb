package memdoc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/danghamo/docidentity/internal/docstore"
	"github.com/danghamo/docidentity/internal/docstore/storetest"
)

func TestConformance(t *testing.T) {
	storetest.RunConformanceSuite(t, func(t *testing.T) docstore.Client {
		c, err := New(nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
		return c
	})
}
