package event

import "github.com/simpletalk/kernel/internal/core/message"

// Kernel events, emitted on the loop goroutine and delivered next tick.

// NotUnderstood reports a message nobody handled.
type NotUnderstood struct {
	Notice message.Message
}

// SnapshotSaved reports a completed save.
type SnapshotSaved struct {
	Name      string
	PartCount int
	Bytes     int
}

// SnapshotFailed reports a save that did not complete.
type SnapshotFailed struct {
	Name string
	Err  error
}
