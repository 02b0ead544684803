package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger implements Logger using rs/zerolog.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger creates a ZerologLogger. DISP_LOG_FORMAT=console selects
// human-readable output for bench work; the default JSON stream is what the
// fleet log shipper expects. DISP_LOG_LEVEL bounds the level and defaults to
// info so per-poll reader chatter stays out of the journal.
func NewZerologLogger(component string) Logger {
	out := io.Writer(os.Stdout)
	if strings.EqualFold(os.Getenv("DISP_LOG_FORMAT"), "console") {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	z := zerolog.New(out).Level(levelFromEnv()).With().
		Timestamp().
		Str("component", component).
		Logger()
	return &ZerologLogger{log: z}
}

func levelFromEnv() zerolog.Level {
	raw := strings.ToLower(os.Getenv("DISP_LOG_LEVEL"))
	if raw == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(raw)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func (l *ZerologLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *ZerologLogger) Debugw(msg string, fields map[string]any) {
	ev := l.log.Debug()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *ZerologLogger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *ZerologLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *ZerologLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}
