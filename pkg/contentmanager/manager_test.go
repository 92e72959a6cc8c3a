package contentmanager

import (
	"context"
	"sync"
	"testing"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/syncore/coreserver/pkg/blobstore/memtest"
	"github.com/syncore/coreserver/pkg/rpcdal/fake"
	"github.com/syncore/coreserver/pkg/transfer"
	"github.com/syncore/coreserver/pkg/uploadregistry"
)

func newManager(t *testing.T) (*Manager, *fake.DAL) {
	t.Helper()
	rpc := fake.New()
	opts := badgerdb.DefaultOptions(t.TempDir()).WithLogger(nil)
	db, err := badgerdb.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	registry := uploadregistry.Open(db)
	return New(rpc, memtest.New(), registry, []byte("salt"), transfer.DefaultConfig()), rpc
}

func TestGetUserByIdCachesAfterFirstLoad(t *testing.T) {
	mgr, rpc := newManager(t)
	u, _ := rpc.AddUser("alice", 100)

	got1, err := mgr.GetUserById(context.Background(), u.ID, true)
	require.NoError(t, err)
	require.NotNil(t, got1)

	got2, err := mgr.GetUserById(context.Background(), u.ID, true)
	require.NoError(t, err)
	require.Same(t, got1, got2)
	require.Equal(t, 1, mgr.Len())
}

func TestGetUserByIdNotRequiredMissReturnsNil(t *testing.T) {
	mgr, _ := newManager(t)
	got, err := mgr.GetUserById(context.Background(), "nobody", false)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestGetUserByIdConcurrentMissesCoalesce(t *testing.T) {
	mgr, rpc := newManager(t)
	u, _ := rpc.AddUser("bob", 100)

	const n = 32
	results := make([]interface{}, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			got, err := mgr.GetUserById(context.Background(), u.ID, true)
			require.NoError(t, err)
			results[i] = got
		}(i)
	}
	wg.Wait()

	first := results[0]
	for _, r := range results {
		require.Same(t, first, r)
	}
	require.Equal(t, 1, mgr.Len())
}

func TestEvictForcesReload(t *testing.T) {
	mgr, rpc := newManager(t)
	u, _ := rpc.AddUser("carol", 100)

	got1, err := mgr.GetUserById(context.Background(), u.ID, true)
	require.NoError(t, err)

	mgr.Evict(u.ID)
	require.Equal(t, 0, mgr.Len())

	got2, err := mgr.GetUserById(context.Background(), u.ID, true)
	require.NoError(t, err)
	require.NotSame(t, got1, got2)
}
