package wconsensus

import (
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/stretchr/testify/require"
)

func TestAdmitMember_keepsDuplicates(t *testing.T) {
	t.Parallel()

	var m []string
	m = admitMember(m, "a")
	m = admitMember(m, "b")
	m = admitMember(m, "a")
	require.Equal(t, []string{"a", "b", "a"}, m)
}

func TestPruneMembers(t *testing.T) {
	t.Parallel()

	members := []string{"a", "b", "c", "d"}

	failed := bitset.New(4)
	failed.Set(1)
	failed.Set(3)
	require.Equal(t, []string{"a", "c"}, pruneMembers(members, failed))

	require.Equal(t, []string{"x"}, pruneMembers([]string{"x"}, bitset.New(1)))
	require.Empty(t, pruneMembers([]string{"x", "y"}, bitset.New(2).Set(0).Set(1)))
	require.Empty(t, pruneMembers(nil, bitset.New(0)))
}
