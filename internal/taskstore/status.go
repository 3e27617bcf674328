package taskstore

import "github.com/Iron-Ham/friendflow/internal/config"

// BindingStatus is the contact binding state stored in a task record.
type BindingStatus int

const (
	// StatusUnrecognized marks a cell value this engine does not own.
	StatusUnrecognized BindingStatus = iota
	StatusPendingAdd
	StatusApplied
	StatusBound
	StatusNotFound
	StatusFailed
)

func (s BindingStatus) String() string {
	switch s {
	case StatusPendingAdd:
		return "PendingAdd"
	case StatusApplied:
		return "Applied"
	case StatusBound:
		return "Bound"
	case StatusNotFound:
		return "NotFound"
	case StatusFailed:
		return "Failed"
	default:
		return "Unrecognized"
	}
}

// transitions is the only set of status moves the engine performs.
// Bound, NotFound and Failed have no outgoing edges.
var transitions = map[BindingStatus][]BindingStatus{
	StatusPendingAdd: {StatusApplied, StatusNotFound, StatusFailed},
	StatusApplied:    {StatusBound, StatusFailed},
}

// CanTransition reports whether from→to is a single legal edge.
func CanTransition(from, to BindingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Path returns the hops from→...→to through the transition graph, excluding
// from itself, or nil when to is unreachable. A friend detected directly on
// a pending record travels PendingAdd→Applied→Bound.
func Path(from, to BindingStatus) []BindingStatus {
	if from == to {
		return nil
	}
	type node struct {
		status BindingStatus
		path   []BindingStatus
	}
	queue := []node{{status: from}}
	seen := map[BindingStatus]bool{from: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range transitions[cur.status] {
			if seen[next] {
				continue
			}
			path := append(append([]BindingStatus(nil), cur.path...), next)
			if next == to {
				return path
			}
			seen[next] = true
			queue = append(queue, node{status: next, path: path})
		}
	}
	return nil
}

// Labels maps binding statuses to the cell values used in the table.
type Labels struct {
	byStatus map[BindingStatus]string
	byLabel  map[string]BindingStatus
}

// NewLabels builds the label mapping from configuration.
func NewLabels(cfg config.StatusesConfig) Labels {
	l := Labels{
		byStatus: map[BindingStatus]string{
			StatusPendingAdd: cfg.PendingAdd,
			StatusApplied:    cfg.Applied,
			StatusBound:      cfg.Bound,
			StatusNotFound:   cfg.NotFound,
			StatusFailed:     cfg.Failed,
		},
		byLabel: make(map[string]BindingStatus, 5),
	}
	for status, label := range l.byStatus {
		l.byLabel[label] = status
	}
	return l
}

// Label returns the cell value for s.
func (l Labels) Label(s BindingStatus) string {
	return l.byStatus[s]
}

// Parse maps a cell value to a status. Unknown values are StatusUnrecognized.
func (l Labels) Parse(label string) BindingStatus {
	if s, ok := l.byLabel[label]; ok {
		return s
	}
	return StatusUnrecognized
}
