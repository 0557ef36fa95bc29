package watcher

import (
	"context"
	"fmt"
	"time"
)

// Kind is the kind of a raw change notification.
type Kind int

const (
	// KindCreated indicates a new file or directory.
	KindCreated Kind = iota
	// KindModified indicates file content changed.
	KindModified
	// KindRemoved indicates the path no longer exists. Renames surface as
	// KindRemoved for the old path and KindCreated for the new one.
	KindRemoved
	// KindRenamed indicates a rename reported as a single event; Path is the
	// new location.
	KindRenamed
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindCreated:
		return "CREATED"
	case KindModified:
		return "MODIFIED"
	case KindRemoved:
		return "REMOVED"
	case KindRenamed:
		return "RENAMED"
	default:
		return "UNKNOWN"
	}
}

// ChangeEvent is a raw filesystem notification.
type ChangeEvent struct {
	// Path is the absolute path of the file or directory.
	Path string

	// OldPath is the previous path for KindRenamed; empty otherwise.
	OldPath string

	Kind  Kind
	IsDir bool

	// Timestamp is when the event was observed.
	Timestamp time.Time
}

// OverflowPolicy selects what happens when the event buffer is full.
type OverflowPolicy string

const (
	// OverflowBlock makes the producer wait for buffer space. No events are lost.
	OverflowBlock OverflowPolicy = "block"
	// OverflowDropOldest discards the oldest buffered event to make room.
	OverflowDropOldest OverflowPolicy = "drop_oldest"
)

// Watch modes.
const (
	ModeAuto     = "auto"
	ModeFSNotify = "fsnotify"
	ModePoll     = "poll"
)

// Watcher defines the interface for file system watching.
type Watcher interface {
	// Start attaches to root recursively and begins producing events in the
	// background. An error means the root could not be attached.
	Start(ctx context.Context, root string) error

	// Stop stops producing and closes Events and Errors. Safe to call multiple times.
	Stop() error

	// Events returns the bounded channel of change events.
	Events() <-chan ChangeEvent

	// Errors returns non-fatal watcher errors.
	Errors() <-chan error
}

// Options configures the watcher behavior.
type Options struct {
	// Mode is "auto" (fsnotify, polling on failure), "fsnotify", or "poll".
	Mode string

	// PollInterval is the scan interval in polling mode.
	// Default: 2s
	PollInterval time.Duration

	// EventBufferSize is the capacity of the Events channel.
	// Default: 1024
	EventBufferSize int

	// Overflow selects the behavior when Events is full.
	// Default: OverflowBlock
	Overflow OverflowPolicy

	// SkipDir reports whether a directory (absolute path) must not be watched
	// or descended into. The root is never skipped.
	SkipDir func(path string) bool
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		Mode:            ModeAuto,
		PollInterval:    2 * time.Second,
		EventBufferSize: 1024,
		Overflow:        OverflowBlock,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.Mode == "" {
		o.Mode = defaults.Mode
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	if o.Overflow == "" {
		o.Overflow = defaults.Overflow
	}
	if o.SkipDir == nil {
		o.SkipDir = func(string) bool { return false }
	}
	return o
}

// Validate returns an error for unknown mode or overflow policy values.
func (o Options) Validate() error {
	switch o.Mode {
	case ModeAuto, ModeFSNotify, ModePoll:
	default:
		return fmt.Errorf("unknown watch mode %q", o.Mode)
	}
	switch o.Overflow {
	case OverflowBlock, OverflowDropOldest:
	default:
		return fmt.Errorf("unknown overflow policy %q", o.Overflow)
	}
	return nil
}
