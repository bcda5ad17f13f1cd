package logger

import (
	"strings"

	"go.uber.org/fx/fxevent"
)

// FxLoggerAdapter routes fx lifecycle events through the package logger.
// Wiring details go to DEBUG, failures to ERROR.
type FxLoggerAdapter struct{}

// NewFxLoggerAdapter creates a new instance of FxLoggerAdapter.
func NewFxLoggerAdapter() fxevent.Logger {
	return &FxLoggerAdapter{}
}

// LogEvent logs events from fx.
func (l *FxLoggerAdapter) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuted:
		hookResult("OnStart", e.FunctionName, e.Err)
	case *fxevent.OnStopExecuted:
		hookResult("OnStop", e.FunctionName, e.Err)
	case *fxevent.Supplied:
		if e.Err != nil {
			Errorf("fx: supply %s failed: %v", e.TypeName, e.Err)
		}
	case *fxevent.Provided:
		if e.Err != nil {
			Errorf("fx: provide %s failed: %v", shortName(e.ConstructorName), e.Err)
			return
		}
		Debugf("fx: provided %s", strings.Join(e.OutputTypeNames, ", "))
	case *fxevent.Invoked:
		if e.Err != nil {
			Errorf("fx: invoke %s failed: %v", shortName(e.FunctionName), e.Err)
		}
	case *fxevent.Stopping:
		Debugf("fx: received %s, stopping", e.Signal)
	case *fxevent.RollingBack:
		Errorf("fx: start failed, rolling back: %v", e.StartErr)
	case *fxevent.Started:
		if e.Err != nil {
			Errorf("fx: start failed: %v", e.Err)
		} else {
			Debugf("fx: application started")
		}
	case *fxevent.LoggerInitialized:
		if e.Err != nil {
			Errorf("fx: logger initialization failed: %v", e.Err)
		}
	}
}

func hookResult(kind, fn string, err error) {
	if err != nil {
		Errorf("fx: %s hook %s failed: %v", kind, shortName(fn), err)
		return
	}
	Debugf("fx: %s hook %s executed", kind, shortName(fn))
}

// shortName drops the ".funcN" suffix fx reports for closures.
func shortName(funcName string) string {
	if idx := strings.LastIndex(funcName, ".func"); idx != -1 {
		return funcName[:idx]
	}
	return funcName
}
