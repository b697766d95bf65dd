package log

// MultiLogger fans events out to several loggers, for example a
// SlogAdapter for the console and a FileLogger for later analysis.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a MultiLogger. Nil loggers and NoopLoggers are
// skipped, and nested MultiLoggers are flattened so every event reaches
// each sink exactly once per registration.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		m.add(l)
	}
	return m
}

func (m *MultiLogger) add(l Logger) {
	switch l := l.(type) {
	case nil, NoopLogger, *NoopLogger:
	case *MultiLogger:
		if l != nil {
			m.loggers = append(m.loggers, l.loggers...)
		}
	default:
		m.loggers = append(m.loggers, l)
	}
}

// Len reports the number of sinks events are delivered to.
func (m *MultiLogger) Len() int { return len(m.loggers) }

// Log sends the event to all configured loggers, in order.
func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}

// Compile-time interface satisfaction check.
var _ Logger = (*MultiLogger)(nil)
