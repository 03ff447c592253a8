package logger

// LoggerContext accumulates attributes over the course of an operation so
// that later log lines carry everything learned so far.
type LoggerContext struct {
	*Logger
}

// NewLoggerContext wraps log so attributes can be added incrementally.
func NewLoggerContext(log *Logger) *LoggerContext {
	return &LoggerContext{Logger: log}
}

// Add appends attributes to every subsequent record written through lc.
func (lc *LoggerContext) Add(args ...any) {
	lc.Logger = lc.Logger.With(args...)
}
