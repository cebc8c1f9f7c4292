package routeconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	_, err := New([]Route{{Path: "", Scope: "s", Cost: 1}})
	assert.Error(t, err)

	_, err = New([]Route{{Path: "/a", Scope: "", Cost: 1}})
	assert.Error(t, err)

	_, err = New([]Route{{Path: "/a", Scope: "s", Cost: -1}})
	assert.Error(t, err)

	_, err = New([]Route{
		{Path: "/a", Scope: "s", Cost: 1},
		{Path: "/a", Scope: "t", Cost: 1},
	})
	assert.Error(t, err)
}

func TestDefaultTable(t *testing.T) {
	table := Default()
	assert.Equal(t, 8, table.Len())

	route, ok := table.Lookup("/api/faucet/faucet-claim")
	require.True(t, ok)
	assert.Equal(t, ScopeFaucetClaim, route.Scope)
	assert.EqualValues(t, 1, route.Cost)

	finalize, ok := table.Lookup("/api/autofaucet/finalize")
	require.True(t, ok)
	assert.EqualValues(t, 0, finalize.Cost)

	_, ok = table.Lookup("/api/nope")
	assert.False(t, ok)
}
