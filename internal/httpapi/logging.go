package httpapi

import (
	"bytes"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// zlog is the HTTP layer's structured logger. Nop until SetLogger is called.
var zlog = zerolog.Nop()

// SetLogger installs a structured logger used by the HTTP layer. Call before NewMux.
func SetLogger(l zerolog.Logger) { zlog = l }

// accessLog installs the request logger and logs one line per request.
func accessLog(next http.Handler) http.Handler {
	access := hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", routeLabel(r)).
			Int("status", status).
			Int("size", size).
			Dur("dur", dur).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
	return hlog.NewHandler(zlog)(access(next))
}

// loggingLineWriter logs complete SSE data lines at debug level.
type loggingLineWriter struct {
	log zerolog.Logger
	buf []byte
}

func (lw *loggingLineWriter) Write(p []byte) (int, error) {
	lw.buf = append(lw.buf, p...)
	for {
		idx := bytes.IndexByte(lw.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(lw.buf[:idx])
		if len(line) > 0 {
			lw.log.Debug().Str("line", line).Msg("chat>")
		}
		lw.buf = lw.buf[idx+1:]
	}
	return len(p), nil
}

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// global default, read once
var defaultLogLevel = parseLevel(os.Getenv("MODEL_PROXY_CHAT_LOG_LEVEL"))

func requestLogLevel(r *http.Request) LogLevel {
	// Per-request overrides
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// chatLog emits chat start/end lines gated by the request's level.
type chatLog struct {
	lvl    LogLevel
	log    zerolog.Logger
	start  time.Time
	userID string
}

func newChatLog(r *http.Request, userID string) chatLog {
	l := *hlog.FromRequest(r)
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		l = l.With().Str("request_id", rid).Logger()
	}
	return chatLog{lvl: requestLogLevel(r), log: l, start: time.Now(), userID: userID}
}

func (c chatLog) begin(stream bool) {
	if c.lvl >= LevelInfo {
		c.log.Info().Str("user_id", c.userID).Bool("stream", stream).Msg("chat start")
	}
}

func (c chatLog) end(status int, err error) {
	switch {
	case err != nil && c.lvl >= LevelError:
		c.log.Warn().Str("user_id", c.userID).Int("status", status).Dur("dur", time.Since(c.start)).Err(err).Msg("chat end")
	case err == nil && c.lvl >= LevelInfo:
		c.log.Info().Str("user_id", c.userID).Int("status", status).Dur("dur", time.Since(c.start)).Msg("chat end")
	}
}
