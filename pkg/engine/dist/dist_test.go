package dist

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	badgerstore "github.com/marmos91/shardfs/pkg/store/metadata/badger"

	"github.com/marmos91/shardfs/pkg/engine"
	"github.com/marmos91/shardfs/pkg/routing"
	"github.com/marmos91/shardfs/pkg/store/content/memory"
	"github.com/marmos91/shardfs/pkg/store/metadata"
	"github.com/marmos91/shardfs/pkg/transport"
	"github.com/marmos91/shardfs/pkg/wire"
)

// ============================================================================
// Helpers
// ============================================================================

// lateHandler lets a server start listening before the engine behind it
// exists. Needed because node addresses are only known once their
// listeners are up, and every engine needs the full member list.
type lateHandler struct {
	h transport.Handler
}

func (l *lateHandler) Dispatch(ctx context.Context, op wire.Op, flags uint32, path string, meta, data []byte) (*transport.Result, error) {
	return l.h.Dispatch(ctx, op, flags, path, meta, data)
}

type testNode struct {
	addr   string
	engine *Engine
	local  *engine.LocalEngine
}

// startCluster brings up n in-process nodes wired to each other over
// real TCP connections.
func startCluster(t *testing.T, n int) []*testNode {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	handlers := make([]*lateHandler, n)
	addrs := make([]string, n)
	for i := range handlers {
		handlers[i] = &lateHandler{}
		srv := transport.NewServer("127.0.0.1:0", handlers[i], transport.Timeouts{})
		go func() { _ = srv.Serve(ctx) }()
		require.Eventually(t, func() bool {
			return srv.Addr() != "127.0.0.1:0"
		}, 2*time.Second, 5*time.Millisecond)
		addrs[i] = srv.Addr()
	}

	nodes := make([]*testNode, n)
	for i := range nodes {
		meta, err := badgerstore.OpenInMemory()
		require.NoError(t, err)
		t.Cleanup(func() { _ = meta.Close() })

		client := transport.NewClient()
		t.Cleanup(func() { _ = client.Close() })

		local := engine.NewLocal(meta, memory.New())
		eng := New(addrs[i], routing.NewTable(addrs), client, local)
		handlers[i].h = eng
		nodes[i] = &testNode{addr: addrs[i], engine: eng, local: local}
	}
	return nodes
}

// pathOwnedBy searches for a path whose shard lands on the wanted node.
func pathOwnedBy(t *testing.T, nodes []*testNode, want *testNode, prefix string) string {
	t.Helper()

	table := routing.NewTable(nodeAddrs(nodes))
	for i := 0; i < 10000; i++ {
		path := fmt.Sprintf("%s%d", prefix, i)
		owner, err := table.OwnerOf(path)
		require.NoError(t, err)
		if owner == want.addr {
			return path
		}
	}
	t.Fatalf("no path with prefix %q owned by %s", prefix, want.addr)
	return ""
}

func nodeAddrs(nodes []*testNode) []string {
	addrs := make([]string, len(nodes))
	for i, n := range nodes {
		addrs[i] = n.addr
	}
	return addrs
}

// ============================================================================
// Tests
// ============================================================================

func TestClusterCreateReadWrite(t *testing.T) {
	ctx := context.Background()

	t.Run("FilesSpreadAcrossNodes", func(t *testing.T) {
		nodes := startCluster(t, 2)

		for i := 0; i < 20; i++ {
			path := fmt.Sprintf("/spread-%d", i)
			require.NoError(t, nodes[0].engine.CreateFile(ctx, path, 0644))
		}

		// Every file is visible through either node, and each node holds
		// at least one of them locally.
		table := routing.NewTable(nodeAddrs(nodes))
		perNode := map[string]int{}
		for i := 0; i < 20; i++ {
			path := fmt.Sprintf("/spread-%d", i)
			for _, n := range nodes {
				exists, err := n.engine.IsExist(ctx, path)
				require.NoError(t, err)
				require.True(t, exists, "path %s via node %s", path, n.addr)
			}
			owner, err := table.OwnerOf(path)
			require.NoError(t, err)
			perNode[owner]++
		}
		for _, n := range nodes {
			require.Positive(t, perNode[n.addr])
		}
	})

	t.Run("RemoteWriteThenRemoteRead", func(t *testing.T) {
		nodes := startCluster(t, 2)
		path := pathOwnedBy(t, nodes, nodes[1], "/remote-")

		require.NoError(t, nodes[0].engine.CreateFile(ctx, path, 0644))
		require.NoError(t, nodes[0].engine.WriteFile(ctx, path, []byte("written far away"), 0))

		got, err := nodes[0].engine.ReadFile(ctx, path, 64, 0)
		require.NoError(t, err)
		require.Equal(t, []byte("written far away"), got)

		// The data lives on the owning node only.
		local, err := nodes[1].local.ReadFile(ctx, path, 64, 0)
		require.NoError(t, err)
		require.Equal(t, got, local)
		_, err = nodes[0].local.GetFileAttributes(ctx, path)
		require.Equal(t, metadata.ErrNoEntry, metadata.CodeOf(err))
	})

	t.Run("RemoteCreatePreservesMode", func(t *testing.T) {
		nodes := startCluster(t, 2)
		path := pathOwnedBy(t, nodes, nodes[1], "/mode-")

		require.NoError(t, nodes[0].engine.CreateFile(ctx, path, 0600))

		attr, err := nodes[0].engine.GetFileAttributes(ctx, path)
		require.NoError(t, err)
		require.Equal(t, uint32(0600), attr.Mode)
		require.Equal(t, metadata.FileTypeRegular, attr.Type)
	})

	t.Run("OpenCreateOnRemoteOwner", func(t *testing.T) {
		nodes := startCluster(t, 2)
		path := pathOwnedBy(t, nodes, nodes[1], "/open-")

		require.NoError(t, nodes[0].engine.OpenFile(ctx, path, engine.OpenCreate))

		exists, err := nodes[1].engine.IsExist(ctx, path)
		require.NoError(t, err)
		require.True(t, exists)
	})

	t.Run("OpenCreateOnExistingFileWithRemoteParent", func(t *testing.T) {
		nodes := startCluster(t, 2)

		// File and parent directory owned by different nodes, so the
		// parent entry was linked over the wire at create time. Opening
		// the existing file with the create flag must not trip over
		// that entry.
		dir := pathOwnedBy(t, nodes, nodes[0], "/reopen-")
		require.NoError(t, nodes[0].engine.CreateDirectory(ctx, dir, 0755))
		path := pathOwnedBy(t, nodes, nodes[1], dir+"/kept-")
		require.NoError(t, nodes[0].engine.CreateFile(ctx, path, 0644))

		for _, n := range nodes {
			require.NoError(t, n.engine.OpenFile(ctx, path, engine.OpenCreate))
		}

		entries, err := nodes[1].engine.ReadDirectory(ctx, dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
	})
}

func TestClusterNamespace(t *testing.T) {
	ctx := context.Background()

	t.Run("ParentLinkageAcrossNodes", func(t *testing.T) {
		nodes := startCluster(t, 2)

		dir := pathOwnedBy(t, nodes, nodes[0], "/dir-")
		require.NoError(t, nodes[0].engine.CreateDirectory(ctx, dir, 0755))

		// A child owned by the other node must still show up in the
		// parent's listing.
		child := pathOwnedBy(t, nodes, nodes[1], dir+"/child-")
		require.NoError(t, nodes[1].engine.CreateFile(ctx, child, 0644))

		for _, n := range nodes {
			entries, err := n.engine.ReadDirectory(ctx, dir)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			require.Equal(t, child, entries[0].Path)
		}
	})

	t.Run("DeleteUnlinksRemoteParent", func(t *testing.T) {
		nodes := startCluster(t, 2)

		dir := pathOwnedBy(t, nodes, nodes[0], "/dir-")
		require.NoError(t, nodes[0].engine.CreateDirectory(ctx, dir, 0755))

		child := pathOwnedBy(t, nodes, nodes[1], dir+"/gone-")
		require.NoError(t, nodes[0].engine.CreateFile(ctx, child, 0644))
		require.NoError(t, nodes[0].engine.DeleteFile(ctx, child))

		entries, err := nodes[1].engine.ReadDirectory(ctx, dir)
		require.NoError(t, err)
		require.Empty(t, entries)

		exists, err := nodes[0].engine.IsExist(ctx, child)
		require.NoError(t, err)
		require.False(t, exists)
	})

	t.Run("DeleteDirectoryRefusesNonEmpty", func(t *testing.T) {
		nodes := startCluster(t, 2)

		dir := pathOwnedBy(t, nodes, nodes[1], "/full-")
		require.NoError(t, nodes[0].engine.CreateDirectory(ctx, dir, 0755))
		require.NoError(t, nodes[0].engine.CreateFile(ctx, dir+"/kid", 0644))

		err := nodes[0].engine.DeleteDirectory(ctx, dir)
		require.Equal(t, metadata.ErrNotEmpty, metadata.CodeOf(err))
	})
}

func TestClusterErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("RemoteErrorCodesSurviveTheWire", func(t *testing.T) {
		nodes := startCluster(t, 2)
		path := pathOwnedBy(t, nodes, nodes[1], "/missing-")

		_, err := nodes[0].engine.GetFileAttributes(ctx, path)
		require.Equal(t, metadata.ErrNoEntry, metadata.CodeOf(err))

		var serr *metadata.StoreError
		require.ErrorAs(t, err, &serr)
		require.Equal(t, path, serr.Path)
	})

	t.Run("InvalidPathRejectedBeforeRouting", func(t *testing.T) {
		nodes := startCluster(t, 2)

		err := nodes[0].engine.CreateFile(ctx, "", 0644)
		require.Equal(t, metadata.ErrInvalidPath, metadata.CodeOf(err))
	})

	t.Run("UnreachableOwner", func(t *testing.T) {
		nodes := startCluster(t, 1)

		// Point the table at a port nobody listens on.
		dead := "127.0.0.1:1"
		nodes[0].engine.table.Update([]string{dead})

		err := nodes[0].engine.CreateFile(ctx, "/anywhere", 0644)
		require.ErrorIs(t, err, transport.ErrUnreachable)
	})
}

func TestClusterControl(t *testing.T) {
	ctx := context.Background()

	t.Run("PingPeers", func(t *testing.T) {
		nodes := startCluster(t, 2)

		require.NoError(t, nodes[0].engine.Ping(ctx, nodes[1].addr))
		require.NoError(t, nodes[1].engine.Ping(ctx, nodes[0].addr))
	})

	t.Run("ClusterInfoOverTheWire", func(t *testing.T) {
		nodes := startCluster(t, 2)

		client := transport.NewClient()
		t.Cleanup(func() { _ = client.Close() })

		resp, err := client.Call(ctx, nodes[1].addr, wire.OpGetMetadata, 0, "/", nil, nil)
		require.NoError(t, err)
		require.Zero(t, resp.Status)

		var info ClusterInfo
		require.NoError(t, json.Unmarshal(resp.Data, &info))
		require.Equal(t, nodes[1].addr, info.Self)
		require.ElementsMatch(t, nodeAddrs(nodes), info.Nodes)
	})
}
