package bus

import "go.uber.org/zap"

// Logger is modeled on the teacher's own application-facing logging
// interface (modular.Logger): structured logging with key-value pairs
// passed as a trailing variadic, a shape its doc comment says is
// "compatible with popular structured logging libraries like slog,
// logrus, zap, and others." Accepting an interface instead of reaching
// for a package-level logger fixes the reference implementation's
// global log level: every EventBus carries its own logger, set once at
// construction and never mutated from elsewhere.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// nopLogger discards everything. Used when no logger is supplied so the
// bus never has to nil-check before logging.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NewZapLogger adapts a *zap.Logger to the bus's Logger interface, one of
// the libraries the teacher's own Logger doc comment names as a drop-in
// fit for its key-value shape.
func NewZapLogger(z *zap.Logger) Logger {
	return zapAdapter{z.Sugar()}
}

type zapAdapter struct {
	s *zap.SugaredLogger
}

func (a zapAdapter) Debug(msg string, args ...any) { a.s.Debugw(msg, args...) }
func (a zapAdapter) Info(msg string, args ...any)  { a.s.Infow(msg, args...) }
func (a zapAdapter) Warn(msg string, args ...any)  { a.s.Warnw(msg, args...) }
func (a zapAdapter) Error(msg string, args ...any) { a.s.Errorw(msg, args...) }
