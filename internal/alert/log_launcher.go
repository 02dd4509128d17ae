package alert

import (
	"context"
	"log/slog"
)

// LogLauncher only logs the URIs it is given. Used in development when no
// broker is configured.
type LogLauncher struct {
	Log *slog.Logger
}

func (l LogLauncher) Open(ctx context.Context, uri string) bool {
	l.Log.InfoContext(ctx, "alert uri", "uri", uri)
	return true
}
