package metrics

import (
	"github.com/herdctl/herd/pkg/events"
	"github.com/herdctl/herd/pkg/types"
)

// Collector turns broker events into counters and instance snapshots
// into gauges.
type Collector struct {
	broker *events.Broker
	sub    events.Subscriber
	stopCh chan struct{}
}

// NewCollector creates a collector subscribed to broker.
func NewCollector(broker *events.Broker) *Collector {
	return &Collector{
		broker: broker,
		sub:    broker.Subscribe(),
		stopCh: make(chan struct{}),
	}
}

// Start launches the event consumption loop.
func (c *Collector) Start() {
	go c.run()
}

// Stop ends the consumption loop and detaches from the broker.
func (c *Collector) Stop() {
	close(c.stopCh)
	c.broker.Unsubscribe(c.sub)
}

func (c *Collector) run() {
	for {
		select {
		case ev, ok := <-c.sub:
			if !ok {
				return
			}
			c.observe(ev)
		case <-c.stopCh:
			return
		}
	}
}

func (c *Collector) observe(ev *events.Event) {
	switch ev.Type {
	case events.EventTaskStarted:
		TaskRunsTotal.Inc()
	case events.EventTaskRetrying:
		TaskRetriesTotal.Inc()
	case events.EventTaskBackoff:
		TaskBackoffsTotal.Inc()
	case events.EventTaskTimeout:
		TaskTimeoutsTotal.Inc()
	case events.EventTaskCompleted:
		TasksCompletedTotal.Inc()
	}
}

// UpdateFromSnapshots refreshes the state gauges from the current set of
// instance snapshots.
func UpdateFromSnapshots(snaps []*types.InstanceSnapshot) {
	InstancesTotal.Reset()
	TasksTotal.Reset()

	held := 0
	taskStates := map[types.TaskState]int{}
	for _, s := range snaps {
		InstancesTotal.WithLabelValues(string(s.State)).Inc()
		held += len(s.LedgerHeld)
		for _, q := range s.Queues {
			for _, t := range q.Processes {
				taskStates[t.State]++
			}
		}
	}

	DevicesHeld.Set(float64(held))
	for state, n := range taskStates {
		TasksTotal.WithLabelValues(string(state)).Set(float64(n))
	}
}
