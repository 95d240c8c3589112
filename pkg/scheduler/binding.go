package scheduler

import "github.com/herdctl/herd/pkg/types"

// LogBinder resolves the external log-binding registry: an optional
// mapping from a task's coordinates to an absolute log file path.
// Consulted once per task; a miss routes the child's stdio to the
// scheduler's own log.
type LogBinder interface {
	Binding(mode types.Mode, configIndex, queueID, processIndex int) (string, bool)
}

// NoBindings is a LogBinder with no bindings.
type NoBindings struct{}

func (NoBindings) Binding(types.Mode, int, int, int) (string, bool) { return "", false }
