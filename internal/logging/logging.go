// Package logging hands out the named subsystem loggers used across chatsync.
package logging

import (
	golog "github.com/ipfs/go-log/v2"
)

const prefix = "chatsync/"

type EventLogger = golog.ZapEventLogger

func Logger(subsystem string) *EventLogger {
	return golog.Logger(prefix + subsystem)
}

// SetLevel applies level ("debug", "info", "warn", "error") to every chatsync subsystem.
func SetLevel(level string) error {
	return golog.SetLogLevelRegex("^chatsync/.*", level)
}
