package snn

import "github.com/sarchlab/akita/v4/sim"

// SpikeMsg carries one spike over an intra-node link, e.g. from a spike
// source into a PE.
type SpikeMsg struct {
	sim.MsgMeta

	Spike Spike
}

// Meta returns the meta data of the msg.
func (m *SpikeMsg) Meta() *sim.MsgMeta {
	return &m.MsgMeta
}

// Clone returns a copy of the msg with a new ID.
func (m *SpikeMsg) Clone() sim.Msg {
	c := *m
	c.ID = sim.GetIDGenerator().Generate()
	return &c
}

// SpikeMsgBuilder is a factory for SpikeMsg.
type SpikeMsgBuilder struct {
	src, dst sim.RemotePort
	spike    Spike
}

// WithSrc sets the source port of the msg.
func (b SpikeMsgBuilder) WithSrc(src sim.RemotePort) SpikeMsgBuilder {
	b.src = src
	return b
}

// WithDst sets the destination port of the msg.
func (b SpikeMsgBuilder) WithDst(dst sim.RemotePort) SpikeMsgBuilder {
	b.dst = dst
	return b
}

// WithSpike sets the spike the msg carries.
func (b SpikeMsgBuilder) WithSpike(s Spike) SpikeMsgBuilder {
	b.spike = s
	return b
}

// Build creates a SpikeMsg.
func (b SpikeMsgBuilder) Build() *SpikeMsg {
	return &SpikeMsg{
		MsgMeta: sim.MsgMeta{
			ID:  sim.GetIDGenerator().Generate(),
			Src: b.src,
			Dst: b.dst,
		},
		Spike: b.spike,
	}
}

// PacketMsg is the inter-PE network packet. The spike rides as the
// serialized wire wrapper so that the payload layout is fixed.
type PacketMsg struct {
	sim.MsgMeta

	SrcNode uint32
	DstNode uint32
	Data    []byte
}

// Meta returns the meta data of the msg.
func (m *PacketMsg) Meta() *sim.MsgMeta {
	return &m.MsgMeta
}

// Clone returns a copy of the msg with a new ID.
func (m *PacketMsg) Clone() sim.Msg {
	c := *m
	c.ID = sim.GetIDGenerator().Generate()
	return &c
}

// PacketMsgBuilder is a factory for PacketMsg.
type PacketMsgBuilder struct {
	src, dst         sim.RemotePort
	srcNode, dstNode uint32
	data             []byte
}

// WithSrc sets the source port of the msg.
func (b PacketMsgBuilder) WithSrc(src sim.RemotePort) PacketMsgBuilder {
	b.src = src
	return b
}

// WithDst sets the destination port of the msg.
func (b PacketMsgBuilder) WithDst(dst sim.RemotePort) PacketMsgBuilder {
	b.dst = dst
	return b
}

// WithSrcNode sets the sending node ID.
func (b PacketMsgBuilder) WithSrcNode(n uint32) PacketMsgBuilder {
	b.srcNode = n
	return b
}

// WithDstNode sets the destination node ID.
func (b PacketMsgBuilder) WithDstNode(n uint32) PacketMsgBuilder {
	b.dstNode = n
	return b
}

// WithData sets the serialized spike payload.
func (b PacketMsgBuilder) WithData(data []byte) PacketMsgBuilder {
	b.data = data
	return b
}

// Build creates a PacketMsg.
func (b PacketMsgBuilder) Build() *PacketMsg {
	return &PacketMsg{
		MsgMeta: sim.MsgMeta{
			ID:           sim.GetIDGenerator().Generate(),
			Src:          b.src,
			Dst:          b.dst,
			TrafficBytes: len(b.data),
		},
		SrcNode: b.srcNode,
		DstNode: b.dstNode,
		Data:    b.data,
	}
}
