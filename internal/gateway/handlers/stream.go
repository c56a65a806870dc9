package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aiagentplatform/api-gateway/internal/gateway/providers"
	"github.com/aiagentplatform/api-gateway/internal/shared/models"
)

// streamEvent is the JSON payload of one SSE data frame
type streamEvent struct {
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// streamChat relays a provider stream to the client as server-sent events.
// Streamed results never populate the cache: a partial failure would leave
// an unverifiable entry.
//
// Per stream the client observes every provider chunk in arrival order
// followed by exactly one terminal frame: `[DONE]` on normal completion, a
// single error event if the provider stream breaks. After cancellation is
// observed nothing further is written and the upstream connection is
// released; the usage record still fires with the partial token count.
func (h *Handler) streamChat(w http.ResponseWriter, r *http.Request, tenant *models.TenantContext, req ChatRequest) {
	ctx := r.Context()

	provider, _, err := h.router.Route(req.Model)
	if err != nil {
		writeRoutingError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeServerError(w, fmt.Errorf("response writer does not support streaming"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	stream, err := provider.StreamChat(ctx, req.Messages, req.Model, *req.Temperature)
	if err != nil {
		// The stream never opened; the error event is its only frame.
		writeSSEError(w, flusher, err)
		h.record(tenant, "chat_stream", req.Model, 0, false)
		return
	}
	defer stream.Close()

	tokens := relayStream(ctx, w, flusher, stream)

	// Best-effort accounting: on cancellation this carries whatever
	// partial count the provider reported before the client went away.
	h.record(tenant, "chat_stream", req.Model, tokens, false)
}

// relayStream forwards chunks until the stream ends, errors, or the request
// context is cancelled. It returns the last cumulative token count the
// provider reported (0 when unreported).
func relayStream(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, stream providers.Stream) int {
	var tokens int

	for {
		select {
		case <-ctx.Done():
			return tokens
		default:
		}

		chunk, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				// Cancellation observed: no frame after this point.
				return tokens
			}
			if errors.Is(err, io.EOF) {
				fmt.Fprint(w, "data: [DONE]\n\n")
				flusher.Flush()
				return tokens
			}
			writeSSEError(w, flusher, err)
			return tokens
		}

		if chunk.TokensUsed > 0 {
			tokens = chunk.TokensUsed
		}
		if chunk.Content == "" {
			continue
		}
		if ctx.Err() != nil {
			// Cancellation arrived while the chunk was in flight.
			return tokens
		}

		payload, _ := json.Marshal(streamEvent{Content: chunk.Content})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}

// writeSSEError emits the single structured error event that takes the
// place of the terminal marker
func writeSSEError(w http.ResponseWriter, flusher http.Flusher, err error) {
	payload, _ := json.Marshal(streamEvent{Error: err.Error()})
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}
