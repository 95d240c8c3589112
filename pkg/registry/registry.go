package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/herdctl/herd/pkg/events"
	"github.com/herdctl/herd/pkg/log"
	"github.com/herdctl/herd/pkg/scheduler"
	"github.com/herdctl/herd/pkg/storage"
	"github.com/herdctl/herd/pkg/types"
)

// Registry errors. Callers match with errors.Is.
var (
	ErrBusy     = errors.New("scheduler identity is busy")
	ErrNotFound = errors.New("scheduler not found")
)

// StartResult reports a successful start.
type StartResult struct {
	Identity types.Identity `json:"identity"`
	PID      int            `json:"pid"`
}

// Registry is the process-wide map of live scheduler instances.
// Invariant: at most one live instance per identity.
type Registry struct {
	mu        sync.Mutex
	instances map[types.Identity]*scheduler.Instance

	store    storage.Store
	broker   *events.Broker
	instOpts []scheduler.Option
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore persists run snapshots at lifecycle transitions.
func WithStore(s storage.Store) Option {
	return func(r *Registry) { r.store = s }
}

// WithBroker attaches the event broker passed to every instance.
func WithBroker(b *events.Broker) Option {
	return func(r *Registry) { r.broker = b }
}

// WithInstanceOptions adds options applied to every started instance.
func WithInstanceOptions(opts ...scheduler.Option) Option {
	return func(r *Registry) { r.instOpts = append(r.instOpts, opts...) }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{instances: make(map[types.Identity]*scheduler.Instance)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start constructs and starts an instance for identity. It refuses if
// the identity is already live, and surfaces start failures (probe
// unavailable, malformed command file) without registering anything.
func (r *Registry) Start(identity types.Identity, cfg *types.SchedulerConfig) (*StartResult, error) {
	if !identity.Mode.Valid() {
		return nil, fmt.Errorf("unknown mode %q", identity.Mode)
	}

	r.mu.Lock()
	if _, live := r.instances[identity]; live {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrBusy, identity)
	}

	opts := r.instOpts
	if r.broker != nil {
		opts = append(opts[:len(opts):len(opts)], scheduler.WithBroker(r.broker))
	}
	inst := scheduler.New(identity, cfg, opts...)
	r.instances[identity] = inst
	r.mu.Unlock()

	if err := inst.Start(); err != nil {
		r.remove(identity)
		r.persist(inst)
		return nil, err
	}

	r.persist(inst)
	go r.watch(identity, inst)

	log.WithScheduler(identity.String()).Info().Int("pid", inst.PID()).Msg("scheduler registered")
	return &StartResult{Identity: identity, PID: inst.PID()}, nil
}

// Stop forwards a stop request to the instance. The entry is removed
// when the instance leaves the running/stopping states.
func (r *Registry) Stop(identity types.Identity) error {
	r.mu.Lock()
	inst, ok := r.instances[identity]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, identity)
	}

	inst.Stop()
	r.persist(inst)
	return nil
}

// StopByPID stops the live instance hosted by pid.
func (r *Registry) StopByPID(pid int) error {
	r.mu.Lock()
	var target *scheduler.Instance
	for _, inst := range r.instances {
		if inst.PID() == pid {
			target = inst
			break
		}
	}
	r.mu.Unlock()

	if target == nil {
		return fmt.Errorf("%w: pid %d", ErrNotFound, pid)
	}
	return r.Stop(target.Identity())
}

// Get returns the snapshot of the live instance for identity.
func (r *Registry) Get(identity types.Identity) (*types.InstanceSnapshot, error) {
	r.mu.Lock()
	inst, ok := r.instances[identity]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, identity)
	}
	return inst.Snapshot(), nil
}

// Config returns the configuration of the live instance for identity.
func (r *Registry) Config(identity types.Identity) (*types.SchedulerConfig, error) {
	r.mu.Lock()
	inst, ok := r.instances[identity]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, identity)
	}
	return inst.Config(), nil
}

// List returns snapshots of every live instance.
func (r *Registry) List() []*types.InstanceSnapshot {
	r.mu.Lock()
	instances := make([]*scheduler.Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		instances = append(instances, inst)
	}
	r.mu.Unlock()

	snaps := make([]*types.InstanceSnapshot, 0, len(instances))
	for _, inst := range instances {
		snaps = append(snaps, inst.Snapshot())
	}
	return snaps
}

// History returns persisted snapshots of past and present runs.
func (r *Registry) History() ([]*types.InstanceSnapshot, error) {
	if r.store == nil {
		return nil, nil
	}
	return r.store.ListRuns()
}

// StopAll stops every live instance and waits for each to finish.
func (r *Registry) StopAll() {
	r.mu.Lock()
	instances := make([]*scheduler.Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		instances = append(instances, inst)
	}
	r.mu.Unlock()

	for _, inst := range instances {
		inst.Stop()
	}
	for _, inst := range instances {
		<-inst.Done()
		r.remove(inst.Identity())
	}
}

// watch removes the instance when it reaches a terminal state and
// persists its final snapshot.
func (r *Registry) watch(identity types.Identity, inst *scheduler.Instance) {
	<-inst.Done()
	r.persist(inst)
	r.remove(identity)
	log.WithScheduler(identity.String()).Info().
		Str("state", string(inst.State())).Msg("scheduler deregistered")
}

func (r *Registry) remove(identity types.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, identity)
}

func (r *Registry) persist(inst *scheduler.Instance) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveRun(inst.Snapshot()); err != nil {
		registryLogger := log.WithComponent("registry")
		registryLogger.Warn().Err(err).Msg("failed to persist run snapshot")
	}
}
