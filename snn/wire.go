package snn

import (
	"encoding/binary"
	"fmt"
	"math"
)

// WireSize is the size of the serialized spike wrapper in bytes.
const WireSize = 28

// EncodeSpike serializes a spike into the little-endian wire wrapper
// used between PEs.
//
//	src_neuron u32 | dst_neuron u32 | dst_node u32 | weight f32 |
//	timestamp u64 | hop_count u32
func EncodeSpike(s Spike) []byte {
	buf := make([]byte, WireSize)
	binary.LittleEndian.PutUint32(buf[0:], s.SrcNeuron)
	binary.LittleEndian.PutUint32(buf[4:], s.DstNeuron)
	binary.LittleEndian.PutUint32(buf[8:], s.DstNode)
	binary.LittleEndian.PutUint32(buf[12:], math.Float32bits(s.Weight))
	binary.LittleEndian.PutUint64(buf[16:], s.Timestamp)
	binary.LittleEndian.PutUint32(buf[24:], s.HopCount)
	return buf
}

// DecodeSpike parses a wire wrapper back into a spike. Payloads of the
// wrong size are rejected.
func DecodeSpike(data []byte) (Spike, error) {
	if len(data) != WireSize {
		return Spike{}, fmt.Errorf(
			"malformed spike payload: %d bytes, want %d", len(data), WireSize)
	}

	s := Spike{
		SrcNeuron: binary.LittleEndian.Uint32(data[0:]),
		DstNeuron: binary.LittleEndian.Uint32(data[4:]),
		DstNode:   binary.LittleEndian.Uint32(data[8:]),
		Weight:    math.Float32frombits(binary.LittleEndian.Uint32(data[12:])),
		Timestamp: binary.LittleEndian.Uint64(data[16:]),
		HopCount:  binary.LittleEndian.Uint32(data[24:]),
	}

	return s, nil
}
