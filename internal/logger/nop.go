package logger

// Nop is a Logger that discards everything. Used in tests and as a safe
// default where a component tolerates a missing logger.
type Nop struct{}

// NewNop creates a no-op logger.
func NewNop() Logger {
	return &Nop{}
}

// Debug does nothing.
func (n *Nop) Debug(msg string, fields ...Field) {}

// Info does nothing.
func (n *Nop) Info(msg string, fields ...Field) {}

// Warn does nothing.
func (n *Nop) Warn(msg string, fields ...Field) {}

// Error does nothing.
func (n *Nop) Error(msg string, fields ...Field) {}

// Fatal does nothing and does not exit.
func (n *Nop) Fatal(msg string, fields ...Field) {}

// With returns the same no-op logger.
func (n *Nop) With(fields ...Field) Logger { return n }

// Sync does nothing.
func (n *Nop) Sync() error { return nil }
