package ring

// VCState tracks what a virtual channel is currently doing.
type VCState int

const (
	VCIdle VCState = iota
	VCRouting
	VCBlocked
	VCActive
)

// A VirtualChannel is one FIFO+credit lane in a given direction at a
// node. credits + len(buffer) never exceeds maxCredits.
type VirtualChannel struct {
	id       int
	priority int
	state    VCState

	buffer     []Message
	credits    uint32
	maxCredits uint32

	lastActivityCycle uint64
}

func (vc *VirtualChannel) hasSpace() bool {
	return vc.credits > 0 && len(vc.buffer) < int(vc.maxCredits)
}

func (vc *VirtualChannel) hasData() bool {
	return len(vc.buffer) > 0
}

func (vc *VirtualChannel) consumeCredit() {
	if vc.credits > 0 {
		vc.credits--
	}
}

func (vc *VirtualChannel) returnCredit() {
	if vc.credits < vc.maxCredits {
		vc.credits++
	}
}

// Credits exposes the current credit count for invariant checking.
func (vc *VirtualChannel) Credits() uint32 { return vc.credits }

// BufferLen exposes the buffered message count for invariant checking.
func (vc *VirtualChannel) BufferLen() int { return len(vc.buffer) }

// MaxCredits exposes the credit ceiling for invariant checking.
func (vc *VirtualChannel) MaxCredits() uint32 { return vc.maxCredits }

// A node is one stop on the ring. Neighbors are arena indices, never
// owning references.
type node struct {
	id int

	nextCW, prevCW   int
	nextCCW, prevCCW int

	cwVCs    []VirtualChannel
	ccwVCs   []VirtualChannel
	localVCs []VirtualChannel

	ejection []Message

	injected      uint64
	ejected       uint64
	forwarded     uint64
	latencyCycles uint64
}

func (n *node) initVCs(numVCs int, creditsPerVC uint32) {
	mk := func() []VirtualChannel {
		vcs := make([]VirtualChannel, numVCs)
		for i := range vcs {
			// VC ID doubles as its priority class.
			vcs[i] = VirtualChannel{
				id:         i,
				priority:   i,
				credits:    creditsPerVC,
				maxCredits: creditsPerVC,
			}
		}
		return vcs
	}

	n.cwVCs = mk()
	n.ccwVCs = mk()
	n.localVCs = mk()
}

func (n *node) vcs(dir Direction) []VirtualChannel {
	switch dir {
	case Clockwise:
		return n.cwVCs
	case CounterClockwise:
		return n.ccwVCs
	case Local:
		return n.localVCs
	default:
		return nil
	}
}

// selectOutputVC prefers the VC whose priority class matches the
// message, then falls back to any VC with space.
func (n *node) selectOutputVC(dir Direction, priority int) *VirtualChannel {
	vcs := n.vcs(dir)

	for i := range vcs {
		if vcs[i].priority == priority && vcs[i].hasSpace() {
			return &vcs[i]
		}
	}
	for i := range vcs {
		if vcs[i].hasSpace() {
			return &vcs[i]
		}
	}

	return nil
}

func (n *node) canAccept(dir Direction, priority int) bool {
	vcs := n.vcs(dir)
	for i := range vcs {
		if vcs[i].priority <= priority && vcs[i].hasSpace() {
			return true
		}
	}
	return false
}
