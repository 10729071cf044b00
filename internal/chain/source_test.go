package chain

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterQuery(t *testing.T) {
	q, err := Filter{Address: testPool, Events: PoolEvents}.Query()
	require.NoError(t, err)

	assert.Equal(t, []common.Address{testPool}, q.Addresses)
	require.Len(t, q.Topics, 1)
	require.Len(t, q.Topics[0], len(PoolEvents))

	for i, name := range PoolEvents {
		id, ok := EventID(name)
		require.True(t, ok)
		assert.Equal(t, id, q.Topics[0][i])
	}
}

func TestFilterQuery_NoEvents(t *testing.T) {
	q, err := Filter{Address: testFactory}.Query()
	require.NoError(t, err)
	assert.Empty(t, q.Topics)
	assert.Nil(t, q.FromBlock)
}

func TestFilterQuery_FromBlock(t *testing.T) {
	q, err := Filter{Address: testPool, FromBlock: 11}.Query()
	require.NoError(t, err)
	require.NotNil(t, q.FromBlock)
	assert.Equal(t, uint64(11), q.FromBlock.Uint64())
	assert.Nil(t, q.ToBlock)
}

func TestFilterQuery_UnknownEvent(t *testing.T) {
	_, err := Filter{Address: testPool, Events: []string{"Transfer"}}.Query()
	assert.Error(t, err)
}

func TestEventID(t *testing.T) {
	created, ok := EventID(EventPairCreated)
	require.True(t, ok)
	assert.Equal(t, FactoryABI.Events[EventPairCreated].ID, created)

	swap, ok := EventID(EventSwap)
	require.True(t, ok)
	assert.Equal(t, PairABI.Events[EventSwap].ID, swap)

	_, ok = EventID("Sync")
	assert.False(t, ok)
}
