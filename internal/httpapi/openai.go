package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"modelproxy/pkg/types"
)

// bearerToken extracts the credential from "Authorization: Bearer <key>".
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// models godoc
// @Summary      OpenAI-compatible model list for a user's endpoint
// @Tags         openai
// @Produce      json
// @Param        user_id  path      string  true  "User id"
// @Security     BearerAuth
// @Success      200      {object}  types.ModelList
// @Failure      401      {object}  types.ErrorResponse
// @Failure      404      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Router       /user/{user_id}/v1/models [get]
func (h *handlers) models(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListModels(r.Context(), chi.URLParam(r, "user_id"), bearerToken(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// sseWriter writes Server-Sent Events, flushing after each event.
type sseWriter struct {
	w     io.Writer
	flush func()
}

func (s sseWriter) data(payload []byte) error {
	if _, err := s.w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := s.w.Write(payload); err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("\n\n")); err != nil {
		return err
	}
	if s.flush != nil {
		s.flush()
	}
	return nil
}

// chatCompletions godoc
// @Summary      OpenAI-compatible chat completion
// @Description  Set stream=true for Server-Sent Events of chat.completion.chunk objects ending with [DONE].
// @Tags         openai
// @Accept       json
// @Produce      json
// @Produce      text/event-stream
// @Param        user_id  path      string                       true  "User id"
// @Param        body     body      types.ChatCompletionRequest  true  "Chat request"
// @Security     BearerAuth
// @Success      200      {object}  types.ChatCompletionResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      401      {object}  types.ErrorResponse
// @Failure      404      {object}  types.ErrorResponse
// @Failure      429      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Router       /user/{user_id}/v1/chat/completions [post]
func (h *handlers) chatCompletions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	var req types.ChatCompletionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	clog := newChatLog(r, userID)
	clog.begin(req.Stream)

	// Join server base context with request context so shutdown cancels work too.
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	if chatTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, time.Duration(chatTimeout)*time.Second)
		defer tcancel()
	}

	if !req.Stream {
		resp, err := h.svc.ChatCompletion(ctx, userID, bearerToken(r), req, nil)
		if err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			clog.end(writeError(w, err), err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		clog.end(http.StatusOK, nil)
		return
	}

	var out io.Writer = w
	if clog.lvl >= LevelDebug {
		out = io.MultiWriter(w, &loggingLineWriter{log: clog.log})
	}
	sse := sseWriter{w: out}
	if f, ok := w.(http.Flusher); ok {
		sse.flush = f.Flush
	}
	started := false
	chunks := 0
	_, err := h.svc.ChatCompletion(ctx, userID, bearerToken(r), req, func(c types.ChatCompletionChunk) error {
		if !started {
			started = true
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
		}
		b, err := json.Marshal(c)
		if err != nil {
			return err
		}
		chunks++
		return sse.data(b)
	})
	if err != nil {
		// If context was canceled (client disconnect), just return.
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			observeStream(streamCanceled, chunks)
			return
		}
		if !started {
			observeStream(streamRejected, 0)
			clog.end(writeError(w, err), err)
			return
		}
		// Headers are gone; report in-band and end the stream.
		observeStream(streamFailed, chunks)
		b, _ := json.Marshal(types.ErrorResponse{Error: err.Error(), Code: statusFor(err)})
		_ = sse.data(b)
		clog.end(http.StatusOK, err)
		return
	}
	observeStream(streamDone, chunks)
	_ = sse.data([]byte("[DONE]"))
	clog.end(http.StatusOK, nil)
}
