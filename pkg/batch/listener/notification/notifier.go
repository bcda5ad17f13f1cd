// Package notification reports finished step executions to an external channel.
package notification

import (
	"context"
	"fmt"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// Notifier is notified once per finished step execution (completed, failed or stopped).
type Notifier interface {
	NotifyStepCompletion(ctx context.Context, execution *model.StepExecution)
}

// LogNotifier writes the notification to the framework logger.
// Completed steps are logged at INFO, everything else at WARN.
type LogNotifier struct{}

// NewLogNotifier creates a new instance of LogNotifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// NotifyStepCompletion logs a one-line summary of execution.
func (n *LogNotifier) NotifyStepCompletion(ctx context.Context, execution *model.StepExecution) {
	message := Summary(execution)
	if execution.Status == model.BatchStatusCompleted {
		logger.Infof("%s", message)
		return
	}
	logger.Warnf("%s", message)
}

var _ Notifier = (*LogNotifier)(nil)

// Summary formats the notification text for execution.
func Summary(execution *model.StepExecution) string {
	var duration string
	if execution.EndTime != nil {
		duration = execution.EndTime.Sub(execution.StartTime).String()
	} else {
		duration = "unknown"
	}
	return fmt.Sprintf(
		"Step Notification: Step '%s' (ID: %s) finished with Status: %s, ExitStatus: %s. Duration: %s, Written: %d, Skipped: %d, Failures: %d",
		execution.StepName,
		execution.ID,
		execution.Status,
		execution.ExitStatus,
		duration,
		execution.Counters.WriteCount,
		execution.Counters.SkipCount(),
		len(execution.Failures),
	)
}

// NotificationListener forwards AfterStep to a Notifier.
type NotificationListener struct {
	notifier     Notifier
	failuresOnly bool
}

// NewNotificationListener creates a listener that notifies on every finished step,
// or only on steps that did not complete when failuresOnly is set.
func NewNotificationListener(notifier Notifier, failuresOnly bool) *NotificationListener {
	return &NotificationListener{notifier: notifier, failuresOnly: failuresOnly}
}

// BeforeStep does nothing.
func (l *NotificationListener) BeforeStep(ctx context.Context, stepExecution *model.StepExecution) {}

// AfterStep notifies the Notifier.
func (l *NotificationListener) AfterStep(ctx context.Context, stepExecution *model.StepExecution) {
	if l.failuresOnly && stepExecution.Status == model.BatchStatusCompleted {
		return
	}
	l.notifier.NotifyStepCompletion(ctx, stepExecution)
}

var _ port.StepExecutionListener = (*NotificationListener)(nil)
