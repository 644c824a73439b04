package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	contractx "github.com/tanpawarit/growth-orchestrator/agent/contract"
)

// SSEWriter frames chunks as server-sent events. The terminal done chunk is
// followed by a literal "[DONE]" event.
type SSEWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support flushing")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSEWriter{w: w, flusher: flusher}, nil
}

func (s *SSEWriter) WriteChunk(ctx context.Context, chunk contractx.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	if chunk.Type == contractx.ChunkDone {
		if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
			return err
		}
	}
	s.flusher.Flush()
	return nil
}
