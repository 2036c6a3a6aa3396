package ingest

// State is a step of an ingest run
type State int

const (
	StateStart State = iota
	StateGateCheck
	StateSkipped
	StateFetching
	StateFlattening
	StateMerging
	StateLogging
	StateDone
)

var stateNames = map[State]string{
	StateStart:      "START",
	StateGateCheck:  "GATE_CHECK",
	StateSkipped:    "SKIPPED",
	StateFetching:   "FETCHING",
	StateFlattening: "FLATTENING",
	StateMerging:    "MERGING",
	StateLogging:    "LOGGING",
	StateDone:       "DONE",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Terminal reports whether s ends a run successfully
func (s State) Terminal() bool {
	return s == StateSkipped || s == StateDone
}
