// Package loader feeds the simulation from the outside world: spike
// dataset files and synaptic weight files.
package loader

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/btree"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/NJUAIXGY/SnnDL/snn"
)

// spikeEntry orders dataset events by timestamp; the sequence number
// keeps same-timestamp events in file order.
type spikeEntry struct {
	timestamp uint64
	seq       uint64
	neuronID  uint32
}

func (e spikeEntry) Less(than btree.Item) bool {
	o := than.(spikeEntry)
	if e.timestamp != o.timestamp {
		return e.timestamp < o.timestamp
	}
	return e.seq < o.seq
}

// SpikeSource replays a spike dataset into a PE. Its clock runs at
// 1 MHz by default so one cycle equals one microsecond of dataset time.
type SpikeSource struct {
	*sim.TickingComponent

	out sim.Port
	dst sim.RemotePort

	queue          *btree.BTree
	timeScale      float64
	neuronOffset   uint32
	maxEvents      uint32
	neuronsPerNode uint32

	currentTime uint64
	seq         uint64

	eventsLoaded uint64
	eventsSent   uint64
}

// SourceBuilder can build spike sources.
type SourceBuilder struct {
	engine sim.Engine
	freq   sim.Freq

	timeScale      float64
	neuronOffset   uint32
	maxEvents      uint32
	neuronsPerNode uint32
}

// MakeSourceBuilder returns a builder with the 1 MHz default clock.
func MakeSourceBuilder() SourceBuilder {
	return SourceBuilder{
		freq:           1 * sim.MHz,
		timeScale:      1.0,
		neuronsPerNode: 16,
	}
}

// WithEngine sets the engine.
func (b SourceBuilder) WithEngine(engine sim.Engine) SourceBuilder {
	b.engine = engine
	return b
}

// WithFreq sets the replay clock.
func (b SourceBuilder) WithFreq(freq sim.Freq) SourceBuilder {
	b.freq = freq
	return b
}

// WithTimeScale stretches or compresses dataset timestamps.
func (b SourceBuilder) WithTimeScale(scale float64) SourceBuilder {
	if scale > 0 {
		b.timeScale = scale
	}
	return b
}

// WithNeuronOffset shifts every dataset neuron id.
func (b SourceBuilder) WithNeuronOffset(offset uint32) SourceBuilder {
	b.neuronOffset = offset
	return b
}

// WithMaxEvents caps how many events are loaded; zero means unlimited.
func (b SourceBuilder) WithMaxEvents(max uint32) SourceBuilder {
	b.maxEvents = max
	return b
}

// WithNeuronsPerNode sets the divisor that maps a global neuron id to
// its destination node.
func (b SourceBuilder) WithNeuronsPerNode(n uint32) SourceBuilder {
	b.neuronsPerNode = n
	return b
}

// Build creates a spike source.
func (b SourceBuilder) Build(name string) *SpikeSource {
	s := &SpikeSource{
		queue:          btree.New(2),
		timeScale:      b.timeScale,
		neuronOffset:   b.neuronOffset,
		maxEvents:      b.maxEvents,
		neuronsPerNode: b.neuronsPerNode,
	}
	s.TickingComponent = sim.NewTickingComponent(name, b.engine, b.freq, s)

	s.out = sim.NewPort(s, 4, 4, name+".Out")
	s.AddPort("Out", s.out)

	return s
}

// Port returns the output port of the source.
func (s *SpikeSource) Port() sim.Port { return s.out }

// SetDestination names the spike port the source feeds.
func (s *SpikeSource) SetDestination(dst sim.RemotePort) { s.dst = dst }

// PendingEvents reports how many dataset events are still queued.
func (s *SpikeSource) PendingEvents() int { return s.queue.Len() }

// NextEventTime peeks at the earliest queued timestamp.
func (s *SpikeSource) NextEventTime() (uint64, bool) {
	if s.queue.Len() == 0 {
		return 0, false
	}
	return s.queue.Min().(spikeEntry).timestamp, true
}

// EventsLoaded reports the dataset size after loading.
func (s *SpikeSource) EventsLoaded() uint64 { return s.eventsLoaded }

// EventsSent reports how many events went out.
func (s *SpikeSource) EventsSent() uint64 { return s.eventsSent }

// LoadFile reads a TEXT dataset: one `<neuron_id> <timestamp_us>` pair
// per line, `#` comments and blank lines skipped.
func (s *SpikeSource) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		if len(fields) < 2 {
			return fmt.Errorf("dataset line %d: want `<neuron> <time>`, got %q", line, text)
		}

		neuron, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return fmt.Errorf("dataset line %d: bad neuron id: %w", line, err)
		}
		ts, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return fmt.Errorf("dataset line %d: bad timestamp: %w", line, err)
		}

		if s.maxEvents > 0 && uint32(s.queue.Len()) >= s.maxEvents {
			break
		}

		s.queue.ReplaceOrInsert(spikeEntry{
			timestamp: uint64(float64(ts) * s.timeScale),
			seq:       s.seq,
			neuronID:  uint32(neuron) + s.neuronOffset,
		})
		s.seq++
		s.eventsLoaded++
	}

	return scanner.Err()
}

// Tick emits every due event. One tick advances the replay clock by
// one dataset microsecond.
func (s *SpikeSource) Tick() bool {
	if s.queue.Len() == 0 {
		return false
	}

	for s.queue.Len() > 0 {
		head := s.queue.Min().(spikeEntry)
		if head.timestamp > s.currentTime {
			break
		}

		spike := snn.Spike{
			SrcNeuron: head.neuronID,
			DstNeuron: head.neuronID,
			DstNode:   head.neuronID / s.neuronsPerNode,
			Weight:    1.0,
			Timestamp: head.timestamp,
		}

		msg := snn.SpikeMsgBuilder{}.
			WithSrc(s.out.AsRemote()).
			WithDst(s.dst).
			WithSpike(spike).
			Build()

		if err := s.out.Send(msg); err != nil {
			// Port full: retry the same event next cycle.
			return true
		}

		s.queue.DeleteMin()
		s.eventsSent++
	}

	s.currentTime++
	return true
}
