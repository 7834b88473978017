package studioflow

import "github.com/davidroman0O/studioflow/pkg/logs"

type Logger = logs.Logger

type Level = logs.Level

const (
	LevelDebug = logs.LevelDebug
	LevelInfo  = logs.LevelInfo
	LevelWarn  = logs.LevelWarn
	LevelError = logs.LevelError
)

type LogFormat = logs.LogFormat

const (
	TextFormat = logs.TextFormat
	JSONFormat = logs.JSONFormat
)

func NewDefaultLogger(level Level, format LogFormat) Logger {
	return logs.NewDefaultLogger(level, format)
}

// ParseLevel accepts debug, info, warn and error. Anything else is info.
func ParseLevel(s string) Level {
	return logs.ParseLevel(s)
}
