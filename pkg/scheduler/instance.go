package scheduler

import (
	"fmt"
	"os"
	"os/user"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/herdctl/herd/pkg/command"
	"github.com/herdctl/herd/pkg/config"
	"github.com/herdctl/herd/pkg/events"
	"github.com/herdctl/herd/pkg/gpu"
	"github.com/herdctl/herd/pkg/ledger"
	"github.com/herdctl/herd/pkg/log"
	"github.com/herdctl/herd/pkg/types"
)

// Instance owns one scheduler run: the configuration, the occupancy
// ledger, the queues and their workers. Its snapshot is the only state
// visible outside the package.
type Instance struct {
	identity types.Identity
	cfg      *types.SchedulerConfig

	probe    gpu.Probe
	selector *gpu.Selector
	ledger   *ledger.Ledger
	broker   *events.Broker
	binder   LogBinder
	gate     *admissionGate

	username string
	pid      int
	logger   zerolog.Logger

	mu        sync.RWMutex
	state     types.InstanceState
	startedAt time.Time
	chosen    []int
	reserved  []int
	queues    []*types.Queue
	lastError string

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
	wg       sync.WaitGroup
}

// Option configures an Instance.
type Option func(*Instance)

// WithProbe overrides the device probe.
func WithProbe(p gpu.Probe) Option {
	return func(i *Instance) { i.probe = p }
}

// WithSelector overrides the device selector.
func WithSelector(s *gpu.Selector) Option {
	return func(i *Instance) { i.selector = s }
}

// WithBroker attaches an event broker.
func WithBroker(b *events.Broker) Option {
	return func(i *Instance) { i.broker = b }
}

// WithLogBinder attaches the external log-binding resolver.
func WithLogBinder(b LogBinder) Option {
	return func(i *Instance) { i.binder = b }
}

// New constructs an instance in the starting state. Start launches it.
func New(identity types.Identity, cfg *types.SchedulerConfig, opts ...Option) *Instance {
	inst := &Instance{
		identity: identity,
		cfg:      cfg,
		ledger:   ledger.New(),
		binder:   NoBindings{},
		gate:     newAdmissionGate(),
		username: currentUsername(),
		pid:      os.Getpid(),
		logger:   log.WithScheduler(identity.String()),
		state:    types.InstanceStateStarting,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(inst)
	}
	if inst.probe == nil {
		inst.probe = gpu.NewSMIProbe()
	}
	if inst.selector == nil {
		inst.selector = gpu.NewSelector(inst.probe, cfg.MemorySaveMode)
	}
	return inst
}

// Start probes devices, parses the command file, builds the queues and
// launches one worker per queue. Probe failure and malformed command
// files are fatal.
func (i *Instance) Start() error {
	probed, err := i.probe.ListDevices()
	if err != nil {
		return i.failStart(fmt.Errorf("device probe failed: %w", err))
	}
	if len(probed) == 0 {
		return i.failStart(fmt.Errorf("%w: no devices visible", gpu.ErrUnavailable))
	}

	eligible := EligibleDevices(probed, i.cfg)
	if len(eligible) == 0 {
		return i.failStart(fmt.Errorf("no eligible devices: probed %v, compete_gpus %v", probed, i.cfg.CompeteGPUs))
	}
	chosen, reserved := ChooseDevices(eligible, i.cfg)

	path := config.CommandFilePath(i.cfg, i.identity.Mode, i.identity.ConfigIndex)
	data, err := os.ReadFile(path)
	if err != nil {
		return i.failStart(fmt.Errorf("failed to read command file: %w", err))
	}
	defs, err := command.Parse(i.identity.Mode, data)
	if err != nil {
		return i.failStart(fmt.Errorf("malformed command file %s: %w", path, err))
	}
	if len(defs) == 0 {
		return i.failStart(fmt.Errorf("command file %s defines no tasks", path))
	}

	queues := buildQueues(defs, i.cfg.WorkDir)

	i.mu.Lock()
	i.chosen = chosen
	i.reserved = reserved
	i.queues = queues
	i.state = types.InstanceStateRunning
	i.startedAt = time.Now()
	i.mu.Unlock()

	i.logger.Info().Ints("chosen", chosen).Ints("reserved", reserved).
		Int("queues", len(queues)).Msg("scheduler started")
	i.publish(events.EventInstanceStarted, 0, 0, "")

	for _, q := range queues {
		w := &worker{inst: i, queue: q, logger: i.logger.With().Int("queue_id", q.ID).Logger()}
		i.wg.Add(1)
		go w.run()
	}
	go i.reap()

	return nil
}

// Stop requests an asynchronous stop. Workers observe it at their next
// suspension point; running children receive a graceful terminate.
func (i *Instance) Stop() {
	i.stopOnce.Do(func() {
		i.mu.Lock()
		if i.state == types.InstanceStateRunning {
			i.state = types.InstanceStateStopping
		}
		i.mu.Unlock()

		i.logger.Info().Msg("stop requested")
		i.publish(events.EventInstanceStopping, 0, 0, "")
		close(i.stopCh)
	})
}

// Done closes when the instance has reached a terminal state.
func (i *Instance) Done() <-chan struct{} { return i.doneCh }

// State returns the current lifecycle state.
func (i *Instance) State() types.InstanceState {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// Identity returns the registry identity.
func (i *Instance) Identity() types.Identity { return i.identity }

// PID returns the hosting process id.
func (i *Instance) PID() int { return i.pid }

// Config returns the instance's configuration.
func (i *Instance) Config() *types.SchedulerConfig { return i.cfg }

// reap waits for all workers, settles the terminal state and announces
// it.
func (i *Instance) reap() {
	i.wg.Wait()

	i.mu.Lock()
	failed := false
	for _, q := range i.queues {
		if q.State == types.QueueStateFailed {
			failed = true
		}
	}
	if failed {
		i.state = types.InstanceStateFailed
	} else {
		i.state = types.InstanceStateCompleted
	}
	state := i.state
	i.mu.Unlock()

	if state == types.InstanceStateFailed {
		i.publish(events.EventInstanceFailed, 0, 0, i.LastError())
	} else {
		i.publish(events.EventInstanceCompleted, 0, 0, "")
	}
	i.logger.Info().Str("state", string(state)).Msg("scheduler finished")
	close(i.doneCh)
}

// failStart moves a starting instance directly to failed.
func (i *Instance) failStart(err error) error {
	i.mu.Lock()
	i.state = types.InstanceStateFailed
	i.lastError = err.Error()
	i.mu.Unlock()

	i.logger.Error().Err(err).Msg("scheduler failed to start")
	i.publish(events.EventInstanceFailed, 0, 0, err.Error())
	close(i.doneCh)
	return err
}

// LastError returns the most recent fatal error, if any.
func (i *Instance) LastError() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.lastError
}

// Snapshot produces an immutable copy of the instance state. Aggregate
// counters are derived from the same locked pass as the per-queue
// counters.
func (i *Instance) Snapshot() *types.InstanceSnapshot {
	i.mu.RLock()
	defer i.mu.RUnlock()

	snap := &types.InstanceSnapshot{
		PID:           i.pid,
		Mode:          i.identity.Mode,
		ConfigIndex:   i.identity.ConfigIndex,
		State:         i.state,
		StartedAt:     i.startedAt,
		ChosenDevices: append([]int(nil), i.chosen...),
		LedgerHeld:    i.ledger.HeldSet(),
		LastError:     i.lastError,
	}

	for _, q := range i.queues {
		qs := types.QueueSnapshot{
			ID:             q.ID,
			State:          q.State,
			Counters:       q.Counters(),
			CurrentDevices: append([]int(nil), q.CurrentDevices()...),
		}
		for idx, t := range q.Tasks {
			if t.State == types.TaskStateRunning {
				qs.CurrentTask = fmt.Sprintf("task %d", t.ID)
			}
			qs.Processes = append(qs.Processes, types.TaskSnapshot{
				Index:      idx,
				ID:         t.ID,
				State:      t.State,
				MemoryGB:   t.MemoryGB,
				GPUCount:   t.GPUCount,
				Devices:    append([]int(nil), t.Devices...),
				RetryCount: t.RetryCount,
				Commands:   append([]string(nil), t.Commands...),
				LastError:  t.LastError,
			})
		}
		snap.Counters.Add(qs.Counters)
		snap.Queues = append(snap.Queues, qs)
	}
	return snap
}

func (i *Instance) stopRequested() bool {
	select {
	case <-i.stopCh:
		return true
	default:
		return false
	}
}

func (i *Instance) chosenDevices() []int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]int(nil), i.chosen...)
}

func (i *Instance) setTaskState(task *types.Task, state types.TaskState) {
	i.mu.Lock()
	defer i.mu.Unlock()
	task.State = state
}

func (i *Instance) markRunning(task *types.Task, devices []int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	task.State = types.TaskStateRunning
	task.Devices = append([]int(nil), devices...)
}

func (i *Instance) clearDevices(task *types.Task) {
	i.mu.Lock()
	defer i.mu.Unlock()
	task.Devices = nil
}

func (i *Instance) recordRetry(task *types.Task, lastErr string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	task.State = types.TaskStateRetrying
	task.RetryCount++
	task.LastError = lastErr
}

func (i *Instance) setBackoffUntil(task *types.Task, until time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	task.BackoffUntil = until
}

func (i *Instance) setQueueState(q *types.Queue, state types.QueueState) {
	i.mu.Lock()
	defer i.mu.Unlock()
	q.State = state
}

func (i *Instance) queueCounters(q *types.Queue) types.TaskCounters {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return q.Counters()
}

func (i *Instance) publish(typ events.EventType, queueID, taskID int, msg string) {
	if i.broker == nil {
		return
	}
	i.broker.Publish(&events.Event{
		Type:     typ,
		Identity: i.identity,
		QueueID:  queueID,
		TaskID:   taskID,
		Message:  msg,
	})
}

// buildQueues groups task definitions by queue id, preserving in-file
// order within each queue. Queues are ordered by id.
func buildQueues(defs []command.Definition, workDir string) []*types.Queue {
	byID := make(map[int]*types.Queue)
	var order []int

	for taskID, def := range defs {
		q, ok := byID[def.QueueID]
		if !ok {
			q = &types.Queue{ID: def.QueueID, State: types.QueueStateIdle}
			byID[def.QueueID] = q
			order = append(order, def.QueueID)
		}

		commands := make([]string, len(def.Commands))
		for j, c := range def.Commands {
			commands[j] = substituteWorkDir(c, workDir)
		}

		q.Tasks = append(q.Tasks, &types.Task{
			ID:       taskID,
			RunID:    uuid.NewString(),
			QueueID:  def.QueueID,
			Commands: commands,
			MemoryGB: def.MemoryGB,
			GPUCount: def.GPUCount,
			State:    types.TaskStatePending,
		})
	}

	sort.Ints(order)
	queues := make([]*types.Queue, 0, len(order))
	for _, id := range order {
		queues = append(queues, byID[id])
	}
	return queues
}

func substituteWorkDir(command, workDir string) string {
	return strings.ReplaceAll(command, "{work_dir}", workDir)
}

func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}
