package notification

import (
	"go.uber.org/fx"

	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/factory"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// NotificationListenerParams defines the dependencies that RegisterNotificationListeners receives from Fx.
type NotificationListenerParams struct {
	fx.In
	Factory  *factory.StepFactory
	Notifier Notifier
}

// RegisterNotificationListeners registers "notification" (every finished step) and
// "failureNotification" (steps that did not complete).
func RegisterNotificationListeners(p NotificationListenerParams) {
	p.Factory.RegisterListenerBuilder("notification", func(_ *config.Config, _ string) (interface{}, error) {
		return NewNotificationListener(p.Notifier, false), nil
	})
	p.Factory.RegisterListenerBuilder("failureNotification", func(_ *config.Config, _ string) (interface{}, error) {
		return NewNotificationListener(p.Notifier, true), nil
	})
	logger.Debugf("Notification listeners were registered with the StepFactory.")
}

// Module provides the log notifier and registers the notification listeners.
// Applications replace the notifier with fx.Decorate.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewLogNotifier,
		fx.As(new(Notifier)),
	)),
	fx.Invoke(RegisterNotificationListeners),
)
