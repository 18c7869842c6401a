package worker

// Phase represents where the miner is in producing a block.
type Phase int32

// Set of phases the miner moves through. A search that is preempted goes
// back to assembling on the new tip.
const (
	PhaseIdle Phase = iota
	PhaseAssembling
	PhaseSearching
	PhasePreempted
	PhaseFound
)

// String implements the fmt.Stringer interface.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAssembling:
		return "assembling"
	case PhaseSearching:
		return "searching"
	case PhasePreempted:
		return "preempted"
	case PhaseFound:
		return "found"
	}

	return "unknown"
}
