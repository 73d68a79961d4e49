package nic_test

import (
	"testing"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/stretchr/testify/require"

	"github.com/NJUAIXGY/SnnDL/nic"
	"github.com/NJUAIXGY/SnnDL/snn"
	"github.com/NJUAIXGY/SnnDL/topology"
)

type fakeNetPort struct {
	name sim.RemotePort
	sent []sim.Msg
	full bool
}

func (p *fakeNetPort) Send(m sim.Msg) *sim.SendError {
	if p.full {
		return sim.NewSendError()
	}
	p.sent = append(p.sent, m)
	return nil
}

func (p *fakeNetPort) CanSend() bool { return !p.full }

func (p *fakeNetPort) AsRemote() sim.RemotePort { return p.name }

func newAdapter(port *fakeNetPort) *nic.Adapter {
	a := nic.MakeBuilder().
		WithNodeID(0).
		WithTopology(topology.NewMesh2D(4, 4, 0)).
		WithPort(port).
		Build()
	for n := uint32(0); n < 16; n++ {
		a.RegisterRoute(n, sim.RemotePort("PE"+string(rune('A'+n))+".Network"))
	}
	return a
}

func TestLocalSpikeLoopsBack(t *testing.T) {
	port := &fakeNetPort{name: "PE0.Network"}
	a := newAdapter(port)

	var got []snn.Spike
	a.SetSpikeHandler(func(s snn.Spike) { got = append(got, s) })

	require.True(t, a.SendSpike(snn.Spike{DstNode: 0, DstNeuron: 3}))
	require.Len(t, got, 1)
	require.Empty(t, port.sent)
	require.Equal(t, uint64(1), a.Stats().LocalSpikes)
}

func TestRemoteSpikeWrapsWireFormat(t *testing.T) {
	port := &fakeNetPort{name: "PE0.Network"}
	a := newAdapter(port)

	s := snn.Spike{SrcNeuron: 7, DstNeuron: 42, DstNode: 3, Weight: 0.25, Timestamp: 1000, HopCount: 2}
	require.True(t, a.SendSpike(s))
	require.Len(t, port.sent, 1)

	pkt, ok := port.sent[0].(*snn.PacketMsg)
	require.True(t, ok)
	require.Equal(t, uint32(0), pkt.SrcNode)
	require.Equal(t, uint32(3), pkt.DstNode)
	require.Equal(t, snn.EncodeSpike(s), pkt.Data)

	stats := a.Stats()
	require.Equal(t, uint64(1), stats.RemoteSpikes)
	require.Equal(t, uint64(3), stats.TotalHops) // node 0 -> node 3 on a 4x4 mesh
	require.Equal(t, uint64(snn.WireSize), stats.BytesSent)
}

func TestBackpressureRetriesOnTick(t *testing.T) {
	port := &fakeNetPort{name: "PE0.Network", full: true}
	a := newAdapter(port)

	require.True(t, a.SendSpike(snn.Spike{DstNode: 5}))
	require.Equal(t, 1, a.PendingCount())
	require.Empty(t, port.sent)

	// Space opens up; the tick drains the queue.
	port.full = false
	require.True(t, a.Tick())
	require.Zero(t, a.PendingCount())
	require.Len(t, port.sent, 1)
}

func TestRetryQueueOverflowDrops(t *testing.T) {
	port := &fakeNetPort{name: "PE0.Network", full: true}
	a := nic.MakeBuilder().
		WithNodeID(0).
		WithTopology(topology.NewMesh2D(4, 4, 0)).
		WithPort(port).
		WithMaxPending(2).
		Build()
	a.RegisterRoute(5, "PEF.Network")

	require.True(t, a.SendSpike(snn.Spike{DstNode: 5}))
	require.True(t, a.SendSpike(snn.Spike{DstNode: 5}))
	require.False(t, a.SendSpike(snn.Spike{DstNode: 5}))

	stats := a.Stats()
	require.Equal(t, uint64(1), stats.PacketsDropped)
	require.Equal(t, uint64(1), stats.CongestionEvents)
}

func TestHandlePacketIncrementsHop(t *testing.T) {
	port := &fakeNetPort{name: "PE0.Network"}
	a := newAdapter(port)

	var got []snn.Spike
	a.SetSpikeHandler(func(s snn.Spike) { got = append(got, s) })

	s := snn.Spike{SrcNeuron: 1, DstNeuron: 2, DstNode: 0, HopCount: 4}
	a.HandlePacket(&snn.PacketMsg{Data: snn.EncodeSpike(s)})

	require.Len(t, got, 1)
	require.Equal(t, uint32(5), got[0].HopCount)
}

func TestHandlePacketRejectsMalformedPayload(t *testing.T) {
	port := &fakeNetPort{name: "PE0.Network"}
	a := newAdapter(port)

	a.SetSpikeHandler(func(snn.Spike) { t.Fatal("handler must not run") })
	a.HandlePacket(&snn.PacketMsg{Data: []byte{1, 2, 3}})

	require.Equal(t, uint64(1), a.Stats().PacketsDropped)
}

func TestBuilderRequiresTopology(t *testing.T) {
	require.Panics(t, func() { nic.MakeBuilder().Build() })
}
