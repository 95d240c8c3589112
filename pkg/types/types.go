package types

import (
	"fmt"
	"time"
)

// Mode selects the command-file grammar and execution style of a scheduler.
type Mode string

const (
	// ModeSingle runs every task on exactly one device.
	ModeSingle Mode = "single"
	// ModeMulti runs tasks on gpu_count devices at once.
	ModeMulti Mode = "multi"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeSingle || m == ModeMulti
}

// Identity is the key under which the registry indexes a live scheduler
// instance. At most one live instance exists per identity.
type Identity struct {
	Mode        Mode `json:"mode"`
	ConfigIndex int  `json:"config_index"`
}

func (id Identity) String() string {
	return fmt.Sprintf("%s/%d", id.Mode, id.ConfigIndex)
}

// RetryPolicy controls the retry-with-backoff behavior of failing tasks.
// Retries are unbounded; every MaxRetryBeforeBackoff-th retry sleeps for
// BackoffDuration seconds before the task becomes schedulable again.
type RetryPolicy struct {
	MaxRetryBeforeBackoff int `yaml:"max_retry_before_backoff" json:"max_retry_before_backoff"`
	BackoffDuration       int `yaml:"backoff_duration" json:"backoff_duration"`
}

// SchedulerConfig is one scheduler's configuration as loaded from the
// YAML config file.
type SchedulerConfig struct {
	CheckTime           int         `yaml:"check_time" json:"check_time"`
	MaximizeUtilization bool        `yaml:"maximize_resource_utilization" json:"maximize_resource_utilization"`
	MemorySaveMode      bool        `yaml:"memory_save_mode" json:"memory_save_mode"`
	CompeteGPUs         []int       `yaml:"compete_gpus" json:"compete_gpus"`
	UseAllGPUs          bool        `yaml:"use_all_gpus" json:"use_all_gpus"`
	GPULeft             int         `yaml:"gpu_left" json:"gpu_left"`
	MinGPU              int         `yaml:"min_gpu" json:"min_gpu"`
	MaxGPU              int         `yaml:"max_gpu" json:"max_gpu"`
	Retry               RetryPolicy `yaml:"retry_config" json:"retry_config"`
	WorkDir             string      `yaml:"work_dir" json:"work_dir"`
	LogDir              string      `yaml:"log_dir" json:"log_dir"`
	StartDelay          int         `yaml:"start_delay" json:"start_delay"`
	GPUCommandFile      string      `yaml:"gpu_command_file" json:"gpu_command_file"`
	GPUsCommandFile     string      `yaml:"gpus_command_file" json:"gpus_command_file"`
}

// CommandFile returns the command-file path configured for the given mode.
func (c *SchedulerConfig) CommandFile(mode Mode) string {
	if mode == ModeMulti {
		return c.GPUsCommandFile
	}
	return c.GPUCommandFile
}

// TaskState represents the state of a task.
type TaskState string

const (
	TaskStatePending   TaskState = "pending"
	TaskStateRunning   TaskState = "running"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateRetrying  TaskState = "retrying"
)

// Terminal reports whether s is a terminal task state.
func (s TaskState) Terminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed
}

// Task is one unit of work: an ordered list of shell commands executed on
// the same device set. Runtime fields are mutated only by the owning
// queue's worker; readers observe them through instance snapshots.
type Task struct {
	ID       int // stable within a config: the block's position in the command file
	RunID    string
	QueueID  int
	Commands []string
	MemoryGB int // required free memory on each chosen device
	GPUCount int // 1 in single mode

	State        TaskState
	RetryCount   int
	BackoffUntil time.Time
	LastError    string
	Devices      []int // devices currently held, nil when not running
}

// QueueState represents the state of a queue.
type QueueState string

const (
	QueueStateIdle      QueueState = "idle"
	QueueStateRunning   QueueState = "running"
	QueueStateCompleted QueueState = "completed"
	QueueStateFailed    QueueState = "failed"
)

// Queue is an ordered list of tasks executed strictly serially.
type Queue struct {
	ID    int
	Tasks []*Task
	State QueueState
}

// TaskCounters aggregates task states.
type TaskCounters struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// Add merges other into c.
func (c *TaskCounters) Add(other TaskCounters) {
	c.Pending += other.Pending
	c.Running += other.Running
	c.Completed += other.Completed
	c.Failed += other.Failed
	c.Total += other.Total
}

// Counters derives the queue's task counters. A retrying task counts as
// pending: it will be admitted again.
func (q *Queue) Counters() TaskCounters {
	var c TaskCounters
	for _, t := range q.Tasks {
		switch t.State {
		case TaskStateRunning:
			c.Running++
		case TaskStateCompleted:
			c.Completed++
		case TaskStateFailed:
			c.Failed++
		default:
			c.Pending++
		}
		c.Total++
	}
	return c
}

// CurrentDevices returns the devices held by the queue's running task.
func (q *Queue) CurrentDevices() []int {
	for _, t := range q.Tasks {
		if t.State == TaskStateRunning {
			return t.Devices
		}
	}
	return nil
}

// InstanceState represents the lifecycle state of a scheduler instance.
type InstanceState string

const (
	InstanceStateStarting  InstanceState = "starting"
	InstanceStateRunning   InstanceState = "running"
	InstanceStateStopping  InstanceState = "stopping"
	InstanceStateCompleted InstanceState = "completed"
	InstanceStateFailed    InstanceState = "failed"
)

// Terminal reports whether s is a terminal instance state.
func (s InstanceState) Terminal() bool {
	return s == InstanceStateCompleted || s == InstanceStateFailed
}

// TaskSnapshot is an immutable observation of one task.
type TaskSnapshot struct {
	Index      int       `json:"index"`
	ID         int       `json:"id"`
	State      TaskState `json:"state"`
	MemoryGB   int       `json:"memory_gb"`
	GPUCount   int       `json:"gpu_count"`
	Devices    []int     `json:"devices,omitempty"`
	RetryCount int       `json:"retry_count"`
	Commands   []string  `json:"commands"`
	LastError  string    `json:"last_error,omitempty"`
}

// QueueSnapshot is an immutable observation of one queue.
type QueueSnapshot struct {
	ID             int            `json:"id"`
	State          QueueState     `json:"state"`
	Counters       TaskCounters   `json:"counters"`
	CurrentTask    string         `json:"current_task,omitempty"`
	CurrentDevices []int          `json:"current_devices,omitempty"`
	Processes      []TaskSnapshot `json:"processes"`
}

// InstanceSnapshot is the only externally visible state of a scheduler
// instance.
type InstanceSnapshot struct {
	PID           int             `json:"pid"`
	Mode          Mode            `json:"mode"`
	ConfigIndex   int             `json:"config_index"`
	State         InstanceState   `json:"state"`
	StartedAt     time.Time       `json:"started_at"`
	ChosenDevices []int           `json:"chosen_devices"`
	LedgerHeld    map[int]int     `json:"ledger_held"`
	Counters      TaskCounters    `json:"counters"`
	Queues        []QueueSnapshot `json:"per_queue"`
	LastError     string          `json:"last_error,omitempty"`
}

// Identity returns the snapshot's registry identity.
func (s *InstanceSnapshot) Identity() Identity {
	return Identity{Mode: s.Mode, ConfigIndex: s.ConfigIndex}
}
