package statusapi

import (
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"trainwatch/logging"
)

// requestLogger logs every request except those under skipPaths.
type requestLogger struct {
	logger    *logging.Logger
	skipPaths map[string]bool
}

func newRequestLogger(logger *logging.Logger, skipPaths []string) *requestLogger {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return &requestLogger{logger: logger, skipPaths: skip}
}

// Middleware adapts the logger to mux.MiddlewareFunc.
func (l *requestLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote", clientIP(r)),
			zap.Int64("bytes", wrapped.written),
		}
		if wrapped.status >= http.StatusInternalServerError {
			l.logger.Warn("HTTP request failed", fields...)
			return
		}
		l.logger.Debug("HTTP request", fields...)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	written     int64
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
