package log

type noopLogger struct{}

func (noopLogger) Info(Fields, string)  {}
func (noopLogger) Error(Fields, string) {}
func (noopLogger) Debug(Fields, string) {}
func (noopLogger) Warn(Fields, string)  {}
func (noopLogger) Panic(Fields, string) {}
func (noopLogger) Fatal(Fields, string) {}

// NewNoopLogger returns a Logger that discards all log messages.
func NewNoopLogger() Logger {
	return noopLogger{}
}
