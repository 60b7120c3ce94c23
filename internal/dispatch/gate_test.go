package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRepoGate_RunsImmediatelyUnderCap(t *testing.T) {
	g := newRepoGate(2)
	ran := 0
	g.run(func() { ran++ })
	g.run(func() { ran++ })
	require.Equal(t, 2, ran)
	require.Equal(t, 0, g.pending())
}

func TestRepoGate_QueuesOverflowAndRunsOnRelease(t *testing.T) {
	g := newRepoGate(1)
	var order []int

	g.run(func() { order = append(order, 1) })
	g.run(func() { order = append(order, 2) }) // queued, cap is 1
	require.Equal(t, 1, g.pending())
	require.Equal(t, []int{1}, order)

	g.release()
	require.Equal(t, []int{1, 2}, order)
	require.Equal(t, 0, g.pending())
}

func TestRepoGate_ReleaseWithEmptyQueueFreesSlot(t *testing.T) {
	g := newRepoGate(1)
	g.run(func() {})
	g.release()

	ran := false
	g.run(func() { ran = true })
	require.True(t, ran)
}
