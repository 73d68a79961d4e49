package ring_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NJUAIXGY/SnnDL/ring"
	"github.com/NJUAIXGY/SnnDL/snn"
)

func TestBuilderRejectsTinyRings(t *testing.T) {
	require.Panics(t, func() {
		ring.MakeBuilder().WithNumNodes(1).Build()
	})
	require.Panics(t, func() {
		ring.MakeBuilder().WithNumNodes(4).WithNumVCs(0).Build()
	})
}

func TestTopologyIsVerified(t *testing.T) {
	for _, n := range []int{2, 3, 4, 7, 16, 64} {
		r := ring.MakeBuilder().WithNumNodes(n).Build()
		require.True(t, r.VerifyTopology(), "n=%d", n)
	}
}

func TestRouteShortestDirectionTieBreaksCW(t *testing.T) {
	r := ring.MakeBuilder().WithNumNodes(4).Build()

	require.Equal(t, ring.Local, r.Route(1, 1))
	require.Equal(t, ring.Clockwise, r.Route(0, 1))
	require.Equal(t, ring.Clockwise, r.Route(0, 2)) // tie: 2 hops either way
	require.Equal(t, ring.CounterClockwise, r.Route(0, 3))

	require.Equal(t, 2, r.Hops(0, 2, ring.Clockwise))
	require.Equal(t, 2, r.Hops(0, 2, ring.CounterClockwise))
	require.Equal(t, 1, r.Hops(0, 3, ring.CounterClockwise))
}

func TestRouteBoundedByHalfRing(t *testing.T) {
	const n = 7
	r := ring.MakeBuilder().WithNumNodes(n).Build()

	for s := 0; s < n; s++ {
		for d := 0; d < n; d++ {
			if s == d {
				continue
			}
			dir := r.Route(s, d)
			hops := r.Hops(s, d, dir)
			require.LessOrEqual(t, hops, (n+1)/2, "s=%d d=%d", s, d)
		}
	}
}

func TestTwoNodeRingAlwaysOneHopCW(t *testing.T) {
	r := ring.MakeBuilder().WithNumNodes(2).Build()

	require.Equal(t, ring.Clockwise, r.Route(0, 1))
	require.Equal(t, ring.Clockwise, r.Route(1, 0))
	require.Equal(t, 1, r.Hops(0, 1, ring.Clockwise))
	require.Equal(t, 1, r.Hops(1, 0, ring.Clockwise))
}

func TestMessageTraversalTiming(t *testing.T) {
	r := ring.MakeBuilder().WithNumNodes(4).Build()

	msg := ring.Message{
		Kind:  ring.KindSpike,
		Spike: snn.Spike{SrcNeuron: 1, DstNeuron: 9},
	}
	require.True(t, r.Send(0, 2, msg, 1))
	require.True(t, r.CheckCreditInvariant())

	// Two forwards, then ejection the cycle after the second forward.
	r.Tick(1)
	_, ok := r.Receive(2)
	require.False(t, ok)
	require.True(t, r.CheckCreditInvariant())

	r.Tick(2)
	_, ok = r.Receive(2)
	require.False(t, ok)

	r.Tick(3)
	got, ok := r.Receive(2)
	require.True(t, ok)
	require.Equal(t, 0, got.SrcUnit)
	require.Equal(t, 2, got.DstUnit)
	require.Equal(t, uint32(9), got.Spike.DstNeuron)
	require.True(t, r.CheckCreditInvariant())

	// Nothing else in flight.
	require.Equal(t, 0, r.PendingMessageCount())
}

func TestLocalSendEjectsImmediately(t *testing.T) {
	r := ring.MakeBuilder().WithNumNodes(3).Build()

	require.True(t, r.Send(1, 1, ring.Message{Kind: ring.KindControl}, 0))
	got, ok := r.Receive(1)
	require.True(t, ok)
	require.Equal(t, ring.KindControl, got.Kind)
}

func TestSendBackpressureWhenOutOfCredit(t *testing.T) {
	r := ring.MakeBuilder().
		WithNumNodes(4).
		WithNumVCs(1).
		WithCreditsPerVC(1).
		Build()

	require.True(t, r.Send(0, 2, ring.Message{}, 0))
	require.False(t, r.Send(0, 2, ring.Message{}, 0))
	require.True(t, r.CheckCreditInvariant())

	// Draining the first message frees the credit again.
	r.Tick(1)
	r.Tick(2)
	r.Tick(3)
	_, ok := r.Receive(2)
	require.True(t, ok)
	require.True(t, r.Send(0, 2, ring.Message{}, 0))
}

func TestVCPriorityPreference(t *testing.T) {
	r := ring.MakeBuilder().WithNumNodes(4).WithNumVCs(2).Build()

	// Both priority classes coexist; the high-priority (0) message wins
	// arbitration and arrives no later than the low-priority one.
	require.True(t, r.Send(0, 2, ring.Message{Kind: ring.KindControl}, 0))
	require.True(t, r.Send(0, 2, ring.Message{Kind: ring.KindSpike}, 1))

	var kinds []ring.MessageKind
	for c := uint64(1); c <= 8; c++ {
		r.Tick(c)
		for {
			msg, ok := r.Receive(2)
			if !ok {
				break
			}
			kinds = append(kinds, msg.Kind)
		}
	}

	require.Len(t, kinds, 2)
	require.Equal(t, ring.KindControl, kinds[0])
}

func TestDeadlockDetectorQuietOnIdleRing(t *testing.T) {
	r := ring.MakeBuilder().WithNumNodes(4).Build()
	require.False(t, r.DetectDeadlock())

	r.Send(0, 2, ring.Message{}, 0)
	require.False(t, r.DetectDeadlock())
}
