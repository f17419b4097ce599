package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreNodes(t *testing.T) {
	s := NewMemoryStore().Session()

	require.NoError(t, s.Create("/a/b/c", []byte("1")))
	children, err := s.Children("/a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, children)

	data, err := s.Get("/a/b/c")
	require.NoError(t, err)
	assert.Equal(t, "1", string(data))

	require.NoError(t, s.Set("/a/b/c", []byte("2")))
	data, _ = s.Get("/a/b/c")
	assert.Equal(t, "2", string(data))

	assert.ErrorIs(t, s.Set("/missing", nil), ErrNoNode)
	_, err = s.Get("/missing")
	assert.ErrorIs(t, err, ErrNoNode)
	_, err = s.Children("/missing")
	assert.ErrorIs(t, err, ErrNoNode)

	assert.ErrorIs(t, s.Delete("/a/b"), ErrNotEmpty)
	require.NoError(t, s.Delete("/a/b/c"))
	assert.ErrorIs(t, s.Delete("/a/b/c"), ErrNoNode)
}

func TestMemoryStoreChildrenVersion(t *testing.T) {
	s := NewMemoryStore().Session()
	require.NoError(t, s.Create("/g/ids/a", nil))

	v1, err := s.ChildrenVersion("/g/ids")
	require.NoError(t, err)

	require.NoError(t, s.Set("/g/ids/a", []byte("x")))
	v2, _ := s.ChildrenVersion("/g/ids")
	assert.Equal(t, v1, v2, "data changes do not count")

	require.NoError(t, s.Create("/g/ids/b", nil))
	require.NoError(t, s.Delete("/g/ids/b"))
	v3, _ := s.ChildrenVersion("/g/ids")
	assert.NotEqual(t, v1, v3, "a member that came and went still changes the version")
}

func TestMemoryStoreWatchFiresOnce(t *testing.T) {
	s := NewMemoryStore().Session()
	require.NoError(t, s.Create("/w", nil))

	ch, err := s.WatchChildren("/w")
	require.NoError(t, err)
	select {
	case <-ch:
		t.Fatal("watch fired early")
	default:
	}

	require.NoError(t, s.Create("/w/x", nil))
	_, open := <-ch
	assert.False(t, open)

	_, err = s.WatchChildren("/nowhere")
	assert.ErrorIs(t, err, ErrNoNode)
}

func TestMemorySessionsShareNamespace(t *testing.T) {
	store := NewMemoryStore()
	a := store.Session()
	b := store.Session()

	require.NoError(t, a.CreateEphemeral("/e/a", nil))
	assert.ErrorIs(t, b.CreateEphemeral("/e/a", nil), ErrNodeExists)

	a.Expire()
	require.NoError(t, b.CreateEphemeral("/e/a", nil))
	assert.Equal(t, uint64(1), a.SessionEpoch())
	assert.Zero(t, b.SessionEpoch())

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	_, err := a.Get("/e/a")
	assert.ErrorIs(t, err, ErrNoNode)
	_, err = b.Get("/e")
	assert.ErrorIs(t, err, ErrSessionLost)
}

func TestPathHelpers(t *testing.T) {
	assert.Equal(t, []string{"/a", "/a/b"}, parents("/a/b/c"))
	assert.Empty(t, parents("/a"))

	name, ok := childName("/x/", "/x/y/z")
	assert.True(t, ok)
	assert.Equal(t, "y", name)
	_, ok = childName("/x/", "/x/")
	assert.False(t, ok)
	_, ok = childName("/x/", "/other")
	assert.False(t, ok)

	p := newPaths("")
	assert.Equal(t, "/meta/consumers/g/owners/t/1-0", p.owner("g", "t", "1-0"))
	assert.Equal(t, "/meta/consumers/g/offsets/t/1-0", p.offset("g", "t", "1-0"))
	assert.Equal(t, "/meta/consumers/g/ids/A", p.consumerID("g", "A"))
	assert.Equal(t, "/meta/brokers/topics/t", p.topic("t"))

	suffix, ok := roleSuffix("slave2")
	assert.True(t, ok)
	assert.Equal(t, "s2", suffix)
	_, ok = roleSuffix("observer")
	assert.False(t, ok)
}
