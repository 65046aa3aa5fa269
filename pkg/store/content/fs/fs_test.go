package fs

import (
	"context"
	"testing"

	"github.com/marmos91/shardfs/pkg/store/content"
	contenttesting "github.com/marmos91/shardfs/pkg/store/content/testing"
)

// TestFSStore runs the blob store conformance suite against the
// filesystem implementation.
func TestFSStore(t *testing.T) {
	suite := &contenttesting.StoreTestSuite{
		NewStore: func(t *testing.T) content.Store {
			store, err := New(context.Background(), t.TempDir())
			if err != nil {
				t.Fatalf("failed to create FSStore: %v", err)
			}
			return store
		},
	}
	suite.Run(t)
}
