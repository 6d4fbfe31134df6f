package otel

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce     sync.Once
	messagesCounter     metric.Int64Counter
	fanoutEventsCounter metric.Int64Counter
	fanoutDropsCounter  metric.Int64Counter
	taskOpsCounter      metric.Int64Counter
	workflowCounter     metric.Int64Counter
	barrierCounter      metric.Int64Counter
	lockCounter         metric.Int64Counter
	batchSize           metric.Int64Histogram
	streamsGauge        metric.Int64ObservableGauge
	streamConnections   atomic.Int64
)

// InitMetrics creates the meter instruments. Safe to call multiple times; only runs once.
// Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		messagesCounter, err = m.Int64Counter("agentcomms_messages_sent_total", metric.WithDescription("Messages persisted, by type and priority"))
		if err != nil {
			return
		}
		fanoutEventsCounter, err = m.Int64Counter("agentcomms_fanout_events_total", metric.WithDescription("Events enqueued to live subscribers"))
		if err != nil {
			return
		}
		fanoutDropsCounter, err = m.Int64Counter("agentcomms_fanout_dropped_total", metric.WithDescription("Events dropped because a subscriber queue was full"))
		if err != nil {
			return
		}
		taskOpsCounter, err = m.Int64Counter("agentcomms_task_operations_total", metric.WithDescription("Task operations (create, claim, complete, update, archive)"))
		if err != nil {
			return
		}
		workflowCounter, err = m.Int64Counter("agentcomms_workflow_transitions_total", metric.WithDescription("Workflow and step transitions"))
		if err != nil {
			return
		}
		barrierCounter, err = m.Int64Counter("agentcomms_barrier_signals_total", metric.WithDescription("Barrier ready signals by result"))
		if err != nil {
			return
		}
		lockCounter, err = m.Int64Counter("agentcomms_lock_operations_total", metric.WithDescription("Lock acquire and release attempts by result"))
		if err != nil {
			return
		}
		batchSize, err = m.Int64Histogram("agentcomms_stream_batch_size", metric.WithDescription("Events written per stream flush"))
		if err != nil {
			return
		}
		streamsGauge, err = m.Int64ObservableGauge("agentcomms_stream_connections", metric.WithDescription("Current live stream subscribers"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(streamsGauge, streamConnections.Load())
			return nil
		}, streamsGauge)
	})
	return err
}

// RecordMessageSent counts one persisted message.
func RecordMessageSent(ctx context.Context, msgType, priority string) {
	if messagesCounter == nil {
		return
	}
	messagesCounter.Add(ctx, 1, metric.WithAttributes(AttrOp.String(msgType), AttrPriority.String(priority)))
}

// RecordFanoutEvent counts one event enqueued for a subscriber.
func RecordFanoutEvent(ctx context.Context, category string) {
	if fanoutEventsCounter != nil {
		fanoutEventsCounter.Add(ctx, 1, metric.WithAttributes(AttrCategory.String(category)))
	}
}

// RecordFanoutDrop counts one event dropped on a full subscriber queue.
func RecordFanoutDrop(ctx context.Context, category string) {
	if fanoutDropsCounter != nil {
		fanoutDropsCounter.Add(ctx, 1, metric.WithAttributes(AttrCategory.String(category)))
	}
}

// RecordStreamBatch records how many events one flush wrote.
func RecordStreamBatch(ctx context.Context, n int) {
	if batchSize != nil {
		batchSize.Record(ctx, int64(n))
	}
}

// RecordTaskOp records a task operation and the status it left the task in.
func RecordTaskOp(ctx context.Context, op, status string) {
	if taskOpsCounter == nil {
		return
	}
	taskOpsCounter.Add(ctx, 1, metric.WithAttributes(AttrOp.String(op), AttrStatus.String(status)))
}

// RecordWorkflowTransition records a workflow or step entering status.
func RecordWorkflowTransition(ctx context.Context, op, status string) {
	if workflowCounter != nil {
		workflowCounter.Add(ctx, 1, metric.WithAttributes(AttrOp.String(op), AttrStatus.String(status)))
	}
}

// RecordBarrierSignal records a ready signal and its result (waiting, cleared, already_cleared).
func RecordBarrierSignal(ctx context.Context, result string) {
	if barrierCounter != nil {
		barrierCounter.Add(ctx, 1, metric.WithAttributes(AttrResult.String(result)))
	}
}

// RecordLockOp records a lock operation (acquire, release) and its result.
func RecordLockOp(ctx context.Context, op, result string) {
	if lockCounter != nil {
		lockCounter.Add(ctx, 1, metric.WithAttributes(AttrOp.String(op), AttrResult.String(result)))
	}
}

// AddStreamConnection adds 1 to the stream connection gauge (call on subscribe).
func AddStreamConnection() {
	streamConnections.Add(1)
}

// RemoveStreamConnection subtracts 1 from the stream connection gauge (call on unsubscribe).
func RemoveStreamConnection() {
	if streamConnections.Add(-1) < 0 {
		streamConnections.Store(0)
	}
}

// StreamConnections returns the current gauge value.
func StreamConnections() int64 {
	return streamConnections.Load()
}

// TaskCountFunc returns task counts keyed by status. Used for the agentcomms_tasks gauge.
type TaskCountFunc func(ctx context.Context) (map[string]int64, error)

// InitMetricsWithTaskCount creates instruments and optionally registers a callback for task gauges.
// Call after InitMeterProvider. If taskCount is nil, task gauges are not reported.
func InitMetricsWithTaskCount(ctx context.Context, taskCount TaskCountFunc) error {
	if err := InitMetrics(ctx); err != nil {
		return err
	}
	if taskCount == nil {
		return nil
	}
	m := Meter()
	tasksGauge, err := m.Int64ObservableGauge("agentcomms_tasks", metric.WithDescription("Number of tasks by status"))
	if err != nil {
		return err
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		counts, err := taskCount(ctx)
		if err != nil {
			return err
		}
		for status, n := range counts {
			o.ObserveInt64(tasksGauge, n, metric.WithAttributes(AttrStatus.String(status)))
		}
		return nil
	}, tasksGauge)
	return err
}
