package rules

import (
	"time"

	"github.com/goliatone/go-settings/pkg/logging"
)

// EvaluatorLogEvent describes an evaluation attempt for logging.
type EvaluatorLogEvent struct {
	Engine   string
	Expr     string
	Scope    string
	Duration time.Duration
	Result   any
	Err      error
}

// EvaluatorLogger records evaluator events.
type EvaluatorLogger interface {
	LogEvaluation(EvaluatorLogEvent)
}

// EvaluatorLoggerFunc adapts a function to EvaluatorLogger.
type EvaluatorLoggerFunc func(EvaluatorLogEvent)

// LogEvaluation implements EvaluatorLogger.
func (f EvaluatorLoggerFunc) LogEvaluation(event EvaluatorLogEvent) {
	if f != nil {
		f(event)
	}
}

type noopEvaluatorLogger struct{}

func (noopEvaluatorLogger) LogEvaluation(EvaluatorLogEvent) {}

// StructuredEvaluatorLogger forwards evaluation events to a structured logger:
// failures at warn level, successes at debug level.
func StructuredEvaluatorLogger(logger logging.Logger) EvaluatorLogger {
	logger = logging.OrNop(logger)
	return EvaluatorLoggerFunc(func(event EvaluatorLogEvent) {
		args := []any{
			"engine", event.Engine,
			"expr", event.Expr,
			"scope", event.Scope,
			"duration", event.Duration,
		}
		if event.Err != nil {
			logger.Warn("rule evaluation failed", append(args, "error", event.Err)...)
			return
		}
		logger.Debug("rule evaluated", append(args, "result", event.Result)...)
	})
}
