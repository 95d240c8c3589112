package scheduler

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/herdctl/herd/pkg/events"
	"github.com/herdctl/herd/pkg/retry"
	"github.com/herdctl/herd/pkg/types"
)

// worker drives one queue's tasks strictly in order. It is the only
// goroutine that mutates the queue's tasks; mutations happen under the
// instance lock so snapshots stay consistent.
type worker struct {
	inst   *Instance
	queue  *types.Queue
	logger zerolog.Logger
}

func (w *worker) run() {
	defer w.inst.wg.Done()

	w.inst.setQueueState(w.queue, types.QueueStateRunning)
	w.inst.publish(events.EventQueueStarted, w.queue.ID, 0, "")

	stopped := false
	for _, task := range w.queue.Tasks {
		if w.inst.stopRequested() {
			stopped = true
			break
		}
		if !w.runTask(task) {
			stopped = true
			break
		}
	}

	w.finish(stopped)
}

// finish settles the queue state. A stopped queue is failed iff one of
// its tasks failed, completed if every task already completed, and
// otherwise keeps running tasks counted as interrupted pending work.
func (w *worker) finish(stopped bool) {
	counters := w.inst.queueCounters(w.queue)

	var state types.QueueState
	switch {
	case counters.Failed > 0:
		state = types.QueueStateFailed
	case counters.Completed == counters.Total:
		state = types.QueueStateCompleted
	case stopped:
		state = w.queueStateLocked()
	default:
		state = types.QueueStateCompleted
	}

	w.inst.setQueueState(w.queue, state)
	if state == types.QueueStateFailed {
		w.inst.publish(events.EventQueueFailed, w.queue.ID, 0, "")
	} else if state == types.QueueStateCompleted {
		w.inst.publish(events.EventQueueCompleted, w.queue.ID, 0, "")
	}
	w.logger.Info().Str("state", string(state)).Msg("queue worker exited")
}

func (w *worker) queueStateLocked() types.QueueState {
	w.inst.mu.RLock()
	defer w.inst.mu.RUnlock()
	return w.queue.State
}

// runTask drives one task to completion, retrying transient failures
// indefinitely. It returns false when the instance is stopping.
func (w *worker) runTask(task *types.Task) bool {
	for {
		devices, ok := w.admit(task)
		if !ok {
			return false
		}

		res := w.execute(task, devices)
		w.release(task, devices)

		switch {
		case res.Stopped:
			w.inst.setTaskState(task, types.TaskStatePending)
			return false

		case res.ExitStatus == 0 && !res.TimedOut:
			w.inst.setTaskState(task, types.TaskStateCompleted)
			w.inst.publish(events.EventTaskCompleted, w.queue.ID, task.ID, "")
			w.logger.Info().Int("task_id", task.ID).Msg("task completed")
			return true

		default:
			if !w.retryTask(task, res) {
				return false
			}
		}
	}
}

// retryTask records a transient failure and applies the periodic
// backoff. It returns false when the instance is stopping.
func (w *worker) retryTask(task *types.Task, res runResult) bool {
	lastErr := fmt.Sprintf("exit status %d", res.ExitStatus)
	if res.TimedOut {
		lastErr = fmt.Sprintf("timed out after %s", ChildTimeout)
		w.inst.publish(events.EventTaskTimeout, w.queue.ID, task.ID, lastErr)
	}

	w.inst.recordRetry(task, lastErr)
	w.inst.publish(events.EventTaskRetrying, w.queue.ID, task.ID, lastErr)

	backoff, wait := retry.ShouldBackoff(w.inst.cfg.Retry, w.taskRetryCount(task))
	if backoff {
		w.inst.setBackoffUntil(task, time.Now().Add(wait))
		w.logger.Warn().Int("task_id", task.ID).Dur("backoff", wait).
			Int("retry_count", w.taskRetryCount(task)).Msg("task backing off")
		w.inst.publish(events.EventTaskBackoff, w.queue.ID, task.ID, "")
		if !w.sleep(wait) {
			w.inst.setTaskState(task, types.TaskStatePending)
			return false
		}
	}

	w.inst.setTaskState(task, types.TaskStatePending)
	return true
}

func (w *worker) taskRetryCount(task *types.Task) int {
	w.inst.mu.RLock()
	defer w.inst.mu.RUnlock()
	return task.RetryCount
}

// admit polls until devices are found for the task or the instance
// stops. Attempts are serialized through the admission gate so sibling
// queues cannot double-select and wide tasks get first pick.
func (w *worker) admit(task *types.Task) ([]int, bool) {
	interval := time.Duration(w.inst.cfg.CheckTime) * time.Second

	for {
		if w.inst.stopRequested() {
			return nil, false
		}

		if !w.inst.gate.Acquire(w.queue.ID, task.GPUCount, w.inst.stopCh) {
			return nil, false
		}
		devices, ok := w.tryAdmit(task)
		if ok {
			// Stagger sibling admissions so freshly started children
			// show up in the next probe.
			if !w.sleep(time.Duration(w.inst.cfg.StartDelay) * time.Second) {
				w.inst.gate.Release()
				w.rollback(task, devices)
				return nil, false
			}
			w.inst.gate.Release()
			return devices, true
		}
		w.inst.gate.Release()

		if !w.sleep(interval) {
			return nil, false
		}
	}
}

// tryAdmit makes one admission attempt while holding the gate.
func (w *worker) tryAdmit(task *types.Task) ([]int, bool) {
	candidates := w.candidates()
	if len(candidates) == 0 {
		return nil, false
	}

	var devices []int
	if w.inst.identity.Mode == types.ModeMulti {
		picked, ok := w.inst.selector.PickN(candidates, task.GPUCount, float64(task.MemoryGB))
		if !ok {
			return nil, false
		}
		devices = picked
	} else {
		picked, ok := w.inst.selector.Pick(candidates, float64(task.MemoryGB))
		if !ok {
			return nil, false
		}
		devices = []int{picked}
	}

	var acquired []int
	for _, d := range devices {
		if !w.inst.ledger.Acquire(d, w.queue.ID) {
			// a sibling raced us to the device
			for _, held := range acquired {
				w.inst.ledger.Release(held, w.queue.ID)
			}
			return nil, false
		}
		acquired = append(acquired, d)
		w.inst.publish(events.EventDeviceAcquired, w.queue.ID, task.ID, fmt.Sprintf("device %d", d))
	}

	w.inst.markRunning(task, acquired)
	w.inst.publish(events.EventTaskStarted, w.queue.ID, task.ID, "")
	return acquired, true
}

// candidates returns the devices the task may be admitted onto:
// the chosen set minus sibling-held devices, minus devices running
// python workloads of this user, unless maximize_resource_utilization
// waives both exclusions.
func (w *worker) candidates() []int {
	chosen := w.inst.chosenDevices()
	if w.inst.cfg.MaximizeUtilization {
		return chosen
	}

	held := w.inst.ledger.HeldSet()

	var out []int
	for _, d := range chosen {
		if _, busy := held[d]; busy {
			continue
		}
		pids, err := w.inst.probe.ForeignPythonProcesses(d, w.inst.username)
		if err != nil || len(pids) > 0 {
			continue
		}
		out = append(out, d)
	}
	return out
}

// rollback undoes an admission that could not proceed to execution.
func (w *worker) rollback(task *types.Task, devices []int) {
	for _, d := range devices {
		w.inst.ledger.Release(d, w.queue.ID)
	}
	w.inst.setTaskState(task, types.TaskStatePending)
}

// execute runs the task's commands in order on its devices. The first
// non-zero exit, timeout or stop ends the task's run.
func (w *worker) execute(task *types.Task, devices []int) runResult {
	out, closer := w.stdioFor(task)
	if closer != nil {
		defer closer.Close()
	}

	total := len(task.Commands)
	for i, command := range task.Commands {
		if w.inst.stopRequested() {
			return runResult{ExitStatus: -1, Stopped: true}
		}

		w.logger.Info().Int("task_id", task.ID).
			Str("devices", joinDevices(devices)).
			Msgf("[%d/%d] %s", i+1, total, truncate(command, 120))

		res, err := runCommand(command, devices, out, ChildTimeout, w.inst.stopCh)
		if err != nil {
			w.logger.Error().Err(err).Int("task_id", task.ID).Msg("failed to spawn child")
			return runResult{ExitStatus: -1}
		}
		if res.Stopped || res.TimedOut || res.ExitStatus != 0 {
			return res
		}
	}
	return runResult{ExitStatus: 0}
}

// stdioFor resolves the task's stdio destination: the externally bound
// log file when a binding exists, the scheduler's own log otherwise.
func (w *worker) stdioFor(task *types.Task) (io.Writer, io.Closer) {
	idx := w.taskIndex(task)
	path, ok := w.inst.binder.Binding(w.inst.identity.Mode, w.inst.identity.ConfigIndex, w.queue.ID, idx)
	if !ok {
		return w.logger, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", path).Msg("failed to open bound log file")
		return w.logger, nil
	}
	return f, f
}

func (w *worker) taskIndex(task *types.Task) int {
	for i, t := range w.queue.Tasks {
		if t == task {
			return i
		}
	}
	return 0
}

// release returns the task's devices to the pool.
func (w *worker) release(task *types.Task, devices []int) {
	for _, d := range devices {
		if w.inst.ledger.Release(d, w.queue.ID) {
			w.inst.publish(events.EventDeviceReleased, w.queue.ID, task.ID, fmt.Sprintf("device %d", d))
		}
	}
	w.inst.clearDevices(task)
}

// sleep waits for d or until stop, reporting false on stop. A
// non-positive duration is a no-op.
func (w *worker) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-w.inst.stopCh:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
