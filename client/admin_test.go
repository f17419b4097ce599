package client

import (
	"testing"

	"github.com/issac1998/go-metaq/internal/coordinator"
	"github.com/issac1998/go-metaq/internal/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminGroupStatusIsReadOnly(t *testing.T) {
	tc := newTestCluster(t, "orders", 2, 1)
	c := newTestClient(t, tc, tc.Config("g"))

	admin, err := c.NewAdmin()
	require.NoError(t, err)
	defer admin.Close()

	status, err := admin.GroupStatus("g", "orders")
	require.NoError(t, err)
	require.Len(t, status, 2)
	for _, s := range status {
		assert.Empty(t, s.Owner)
		assert.Equal(t, metadata.OffsetInfo{}, s.Committed)
	}

	session := tc.Store.Session()
	defer session.Close()
	_, err = session.Get("/meta/consumers/g/offsets/orders/1-0")
	assert.ErrorIs(t, err, coordinator.ErrNoNode)
	_, err = session.Get("/meta/consumers/g")
	assert.ErrorIs(t, err, coordinator.ErrNoNode)
}

func TestAdminTopology(t *testing.T) {
	tc := newTestCluster(t, "orders", 2, 1, 2)
	c := newTestClient(t, tc, tc.Config("g"))

	admin, err := c.NewAdmin()
	require.NoError(t, err)
	defer admin.Close()

	topo, err := admin.Topology()
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, topo.Topics())
	assert.Len(t, topo.Masters("orders"), 4)

	members, err := admin.GroupMembers("g")
	require.NoError(t, err)
	assert.Empty(t, members)
}
