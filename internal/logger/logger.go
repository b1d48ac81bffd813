// Package logger wraps zerolog with per-component console loggers so every
// service tags its output uniformly.
package logger

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type Logger struct {
	*zerolog.Logger
	component string
}

// New creates a logger for a component. Level comes from APP_ENV:
// development logs debug, everything else info and up.
func New(component string) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "2006-01-02 15:04:05",
		FormatMessage: func(i interface{}) string {
			return fmt.Sprintf("[%s] %s", component, i)
		},
	}

	level := zerolog.InfoLevel
	if os.Getenv("APP_ENV") == "development" {
		level = zerolog.DebugLevel
	}

	l := zerolog.New(output).Level(level).With().Timestamp().Logger()
	return &Logger{Logger: &l, component: component}
}

func (l *Logger) LogDebug(msg string) { l.Debug().Msg(msg) }
func (l *Logger) LogInfo(msg string)  { l.Info().Msg(msg) }
func (l *Logger) LogWarn(msg string)  { l.Warn().Msg(msg) }

func (l *Logger) LogError(msg string, err error) {
	if err != nil {
		l.Error().Err(err).Msg(msg)
		return
	}
	l.Error().Msg(msg)
}

func (l *Logger) LogFatal(msg string, err error) {
	if err != nil {
		l.Fatal().Err(err).Msg(msg)
		return
	}
	l.Fatal().Msg(msg)
}

func (l *Logger) LogDebugf(format string, v ...interface{}) { l.Debug().Msgf(format, v...) }
func (l *Logger) LogInfof(format string, v ...interface{})  { l.Info().Msgf(format, v...) }
func (l *Logger) LogWarnf(format string, v ...interface{})  { l.Warn().Msgf(format, v...) }
func (l *Logger) LogErrorf(format string, v ...interface{}) { l.Error().Msgf(format, v...) }
func (l *Logger) LogFatalf(format string, v ...interface{}) { l.Fatal().Msgf(format, v...) }
