package query

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

const maxRequestBytes = 64 << 10

// Handler serves POST requests with a JSON Request body as an SSE stream.
// The X-Tenant-ID header, when present, wins over the body's tenant_id.
func Handler(s *Streamer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req Request
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if tenant := r.Header.Get("X-Tenant-ID"); tenant != "" {
			req.TenantID = tenant
		}
		if err := req.validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		sse, err := NewSSEWriter(w)
		if err != nil {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		if err := s.Stream(r.Context(), req, sse); err != nil {
			log.Debug().Err(err).Str("tenant_id", req.TenantID).Msg("query stream ended with error")
		}
	})
}
