package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClockReplacerVictimEmpty(t *testing.T) {
	r := NewClockReplacer(4)
	_, ok := r.Victim()
	require.False(t, ok)
}

func TestClockReplacerInsertAndVictim(t *testing.T) {
	r := NewClockReplacer(4)
	r.Insert(0)
	r.Insert(1)
	require.Equal(t, 2, r.Size())

	// First pass over a freshly-inserted id clears its ref bit instead of
	// evicting it; the id is only victimized on the next pass through.
	id, ok := r.Victim()
	require.True(t, ok)
	require.Contains(t, []int{0, 1}, id)
	require.Equal(t, 1, r.Size())
}

func TestClockReplacerEraseRemovesCandidate(t *testing.T) {
	r := NewClockReplacer(4)
	r.Insert(2)
	require.True(t, r.Erase(2))
	require.Equal(t, 0, r.Size())
	require.False(t, r.Erase(2))
}

func TestClockReplacerSweepEventuallyEvictsAll(t *testing.T) {
	r := NewClockReplacer(3)
	r.Insert(0)
	r.Insert(1)
	r.Insert(2)

	seen := map[int]bool{}
	for i := 0; i < 3; i++ {
		id, ok := r.Victim()
		require.True(t, ok)
		seen[id] = true
	}
	require.Len(t, seen, 3)
	require.Equal(t, 0, r.Size())
}
