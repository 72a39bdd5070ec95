package backup

import "fmt"

// State is a phase of the orchestrator's run.
type State int

const (
	StateInit State = iota
	StateValidating
	StateDownloading
	StateSyncing
	StateAggregating
	StateReporting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateValidating:
		return "validating"
	case StateDownloading:
		return "downloading"
	case StateSyncing:
		return "syncing"
	case StateAggregating:
		return "aggregating"
	case StateReporting:
		return "reporting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Failed is only reachable before downloading starts. From there on the run
// always reaches Done.
func isAllowedTransition(from, to State) bool {
	switch from {
	case StateInit:
		return to == StateValidating || to == StateFailed
	case StateValidating:
		return to == StateDownloading || to == StateFailed
	case StateDownloading:
		return to == StateSyncing
	case StateSyncing:
		return to == StateAggregating
	case StateAggregating:
		return to == StateReporting
	case StateReporting:
		return to == StateDone
	default:
		return false
	}
}

type machine struct {
	state   State
	history []State
}

func newMachine() *machine {
	return &machine{state: StateInit, history: []State{StateInit}}
}

func (m *machine) to(next State) error {
	if !isAllowedTransition(m.state, next) {
		return fmt.Errorf("disallowed transition: %s -> %s", m.state, next)
	}
	m.state = next
	m.history = append(m.history, next)
	return nil
}
