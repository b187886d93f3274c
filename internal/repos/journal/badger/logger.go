package journal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// slogLogger routes Badger's printf-style logging into slog.
type slogLogger struct{ l *slog.Logger }

func (s slogLogger) log(level slog.Level, format string, args ...interface{}) {
	if !s.l.Enabled(context.Background(), level) {
		return
	}

	s.l.Log(context.Background(), level, strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (s slogLogger) Errorf(format string, args ...interface{}) {
	s.log(slog.LevelError, format, args...)
}

func (s slogLogger) Warningf(format string, args ...interface{}) {
	s.log(slog.LevelWarn, format, args...)
}

func (s slogLogger) Infof(format string, args ...interface{}) {
	s.log(slog.LevelDebug, format, args...)
}

func (s slogLogger) Debugf(format string, args ...interface{}) {
	s.log(slog.LevelDebug, format, args...)
}
