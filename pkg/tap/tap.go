// Package tap tracks the IEEE 1149.1 TAP controller state machine shared by
// every device on a JTAG scan chain. It performs no I/O; callers clock the
// machine in step with the TMS bits they actually drive onto the wire.
package tap

import "fmt"

// State is one of the 16 TAP controller states.
type State uint8

const (
	TestLogicReset State = iota
	RunTestIdle
	SelectDRScan
	CaptureDR
	ShiftDR
	Exit1DR
	PauseDR
	Exit2DR
	UpdateDR
	SelectIRScan
	CaptureIR
	ShiftIR
	Exit1IR
	PauseIR
	Exit2IR
	UpdateIR
)

var names = [...]string{
	"TestLogicReset", "RunTestIdle", "SelectDRScan", "CaptureDR", "ShiftDR",
	"Exit1DR", "PauseDR", "Exit2DR", "UpdateDR", "SelectIRScan", "CaptureIR",
	"ShiftIR", "Exit1IR", "PauseIR", "Exit2IR", "UpdateIR",
}

func (s State) String() string {
	if int(s) < len(names) {
		return names[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// InIR reports whether the state belongs to the IR scan branch of the tree.
func (s State) InIR() bool {
	return s >= SelectIRScan
}

type edge struct{ zero, one State }

var transitions = [...]edge{
	TestLogicReset: {RunTestIdle, TestLogicReset},
	RunTestIdle:    {RunTestIdle, SelectDRScan},
	SelectDRScan:   {CaptureDR, SelectIRScan},
	CaptureDR:      {ShiftDR, Exit1DR},
	ShiftDR:        {ShiftDR, Exit1DR},
	Exit1DR:        {PauseDR, UpdateDR},
	PauseDR:        {PauseDR, Exit2DR},
	Exit2DR:        {ShiftDR, UpdateDR},
	UpdateDR:       {RunTestIdle, SelectDRScan},
	SelectIRScan:   {CaptureIR, TestLogicReset},
	CaptureIR:      {ShiftIR, Exit1IR},
	ShiftIR:        {ShiftIR, Exit1IR},
	Exit1IR:        {PauseIR, UpdateIR},
	PauseIR:        {PauseIR, Exit2IR},
	Exit2IR:        {ShiftIR, UpdateIR},
	UpdateIR:       {RunTestIdle, SelectDRScan},
}

// Next returns the state reached by clocking TCK once with the given TMS
// level from the current state.
func Next(current State, tms bool) State {
	e := transitions[current]
	if tms {
		return e.one
	}
	return e.zero
}

// Machine tracks the controller's current state without touching hardware.
type Machine struct {
	state State
}

// New returns a Machine initialized to Test-Logic-Reset, the state every TAP
// controller lands in after power-up or five consecutive TMS=1 cycles.
func New() *Machine {
	return &Machine{state: TestLogicReset}
}

// State reports the state the machine believes the hardware is in.
func (m *Machine) State() State { return m.state }

// Clock advances the machine by one TCK period for the given TMS level.
func (m *Machine) Clock(tms bool) State {
	m.state = Next(m.state, tms)
	return m.state
}

// Reset returns the five TMS=1 bits that force Test-Logic-Reset from any
// state, per the IEEE 1149.1 recommendation, and applies them to the
// machine's tracked state.
func (m *Machine) Reset() []bool {
	bits := make([]bool, 5)
	for i := range bits {
		bits[i] = true
		m.Clock(true)
	}
	return bits
}

// GoTo computes the shortest TMS bit sequence that drives the controller
// from its current tracked state to target, applies it to the machine, and
// returns the bits so the caller can shift them onto TCK/TMS.
func (m *Machine) GoTo(target State) ([]bool, error) {
	if m.state == target {
		return nil, nil
	}
	path, err := shortestPath(m.state, target)
	if err != nil {
		return nil, err
	}
	for _, bit := range path {
		m.Clock(bit)
	}
	return path, nil
}

// shortestPath runs a breadth-first search over the 16-state transition
// graph; with only two out-edges per node and 16 nodes this is cheaper than
// maintaining a precomputed table by hand and just as fast in practice.
func shortestPath(from, to State) ([]bool, error) {
	if int(from) >= len(transitions) {
		return nil, fmt.Errorf("tap: invalid source state %d", from)
	}
	if int(to) >= len(transitions) {
		return nil, fmt.Errorf("tap: invalid target state %d", to)
	}

	type frame struct {
		state State
		bits  []bool
	}
	queue := []frame{{state: from}}
	visited := map[State]bool{from: true}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, bit := range [2]bool{false, true} {
			next := Next(cur.state, bit)
			if visited[next] {
				continue
			}
			bits := make([]bool, len(cur.bits)+1)
			copy(bits, cur.bits)
			bits[len(bits)-1] = bit

			if next == to {
				return bits, nil
			}
			visited[next] = true
			queue = append(queue, frame{state: next, bits: bits})
		}
	}
	return nil, fmt.Errorf("tap: no path from %s to %s", from, to)
}
