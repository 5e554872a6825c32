package mutation

import (
	"fmt"
	"time"
)

const (
	DefaultEditWindow   = 15 * time.Minute
	DefaultDeleteWindow = 15 * time.Minute
	DefaultUndoGrace    = 5 * time.Second
)

// Policy holds the time limits. Edit and delete windows are independent
// but share the creation-time anchor.
type Policy struct {
	EditWindow   time.Duration
	DeleteWindow time.Duration
	UndoGrace    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		EditWindow:   DefaultEditWindow,
		DeleteWindow: DefaultDeleteWindow,
		UndoGrace:    DefaultUndoGrace,
	}
}

func (p Policy) Validate() error {
	if p.EditWindow <= 0 {
		return fmt.Errorf("edit window must be positive, got %s", p.EditWindow)
	}
	if p.DeleteWindow <= 0 {
		return fmt.Errorf("delete window must be positive, got %s", p.DeleteWindow)
	}
	if p.UndoGrace <= 0 {
		return fmt.Errorf("undo grace must be positive, got %s", p.UndoGrace)
	}
	return nil
}

func humanWindow(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int64(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int64(d/time.Minute), "minute")
	default:
		return plural(int64(d/time.Second), "second")
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
