package api

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/fulldump/box"
	"github.com/rs/zerolog"

	"github.com/fulldump/unikv/database"
)

// Serve installs on b the interceptors of a served API, outermost first.
// PrettyErrorInterceptor must wrap every interceptor that fails a request
// without calling next, or the error is never written.
func Serve(b *box.B, db *database.Database, l zerolog.Logger, compression bool) *box.B {
	if compression {
		b.WithInterceptors(Compression)
	}
	b.WithInterceptors(
		AccessLog(l),
		PrettyErrorInterceptor,
		RecoverFromPanic(l),
		InterceptorUnavailable(db),
	)
	return b
}

// RecoverFromPanic turns a panicking handler into an internal error.
func RecoverFromPanic(l zerolog.Logger) box.I {
	return func(next box.H) box.H {
		return func(ctx context.Context) {
			defer func() {
				if r := recover(); r != nil {
					l.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("handler panic")
					box.SetError(ctx, fmt.Errorf("panic: %v", r))
				}
			}()
			next(ctx)
		}
	}
}

func AccessLog(l zerolog.Logger) box.I {
	return func(next box.H) box.H {
		return func(ctx context.Context) {
			r := box.GetRequest(ctx)
			now := time.Now()
			defer func() {
				e := l.Info()
				if err := box.GetError(ctx); err != nil {
					e = l.Warn().Err(err)
				}
				e.Str("remote_addr", formatRemoteAddr(r)).
					Str("method", r.Method).
					Str("url", r.URL.String()).
					Dur("latency", time.Since(now)).
					Msg("access")
			}()

			next(ctx)
		}
	}
}

func formatRemoteAddr(r *http.Request) string {
	xorigin := strings.TrimSpace(strings.Split(
		r.Header.Get("X-Forwarded-For"), ",")[0])
	if xorigin != "" {
		return xorigin
	}

	if i := strings.LastIndex(r.RemoteAddr, ":"); i >= 0 {
		return r.RemoteAddr[0:i]
	}
	return r.RemoteAddr
}
