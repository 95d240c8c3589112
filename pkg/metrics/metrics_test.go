package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herdctl/herd/pkg/events"
	"github.com/herdctl/herd/pkg/types"
)

func TestUpdateFromSnapshots(t *testing.T) {
	snaps := []*types.InstanceSnapshot{
		{
			State:      types.InstanceStateRunning,
			LedgerHeld: map[int]int{0: 1, 2: 3},
			Queues: []types.QueueSnapshot{
				{Processes: []types.TaskSnapshot{
					{State: types.TaskStateRunning},
					{State: types.TaskStatePending},
				}},
			},
		},
		{
			State:      types.InstanceStateRunning,
			LedgerHeld: map[int]int{1: 1},
			Queues: []types.QueueSnapshot{
				{Processes: []types.TaskSnapshot{
					{State: types.TaskStateCompleted},
				}},
			},
		},
	}

	UpdateFromSnapshots(snaps)

	assert.Equal(t, 2.0, testutil.ToFloat64(InstancesTotal.WithLabelValues("running")))
	assert.Equal(t, 3.0, testutil.ToFloat64(DevicesHeld))
	assert.Equal(t, 1.0, testutil.ToFloat64(TasksTotal.WithLabelValues("running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(TasksTotal.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(TasksTotal.WithLabelValues("completed")))

	UpdateFromSnapshots(nil)
	assert.Equal(t, 0.0, testutil.ToFloat64(DevicesHeld))
	assert.Equal(t, 0.0, testutil.ToFloat64(InstancesTotal.WithLabelValues("running")))
}

func TestCollectorObservesEvents(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	c := NewCollector(broker)
	c.Start()
	defer c.Stop()

	runsBefore := testutil.ToFloat64(TaskRunsTotal)
	retriesBefore := testutil.ToFloat64(TaskRetriesTotal)
	completedBefore := testutil.ToFloat64(TasksCompletedTotal)

	broker.Publish(&events.Event{Type: events.EventTaskStarted})
	broker.Publish(&events.Event{Type: events.EventTaskRetrying})
	broker.Publish(&events.Event{Type: events.EventTaskCompleted})

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(TasksCompletedTotal) == completedBefore+1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, runsBefore+1, testutil.ToFloat64(TaskRunsTotal))
	assert.Equal(t, retriesBefore+1, testutil.ToFloat64(TaskRetriesTotal))
}
