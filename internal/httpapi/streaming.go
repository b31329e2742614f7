package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fleetcore-ai/compass/internal/streaming"
)

// sseHeartbeat keeps idle streams alive through proxies.
const sseHeartbeat = 15 * time.Second

// handleSSE streams research progress for a workflow via Server-Sent
// Events.
//
//	GET /api/v1/stream/sse?workflow_id=<id>[&types=a,b][&last_event_id=n]
//
// A Last-Event-ID header (or query parameter) replays buffered events with
// a higher sequence number before live delivery starts.
func (a *API) handleSSE(w http.ResponseWriter, r *http.Request) {
	workflowID := r.URL.Query().Get("workflow_id")
	if workflowID == "" {
		sendError(w, "workflow_id required", http.StatusBadRequest)
		return
	}
	typeFilter := parseTypeFilter(r.URL.Query().Get("types"))
	lastID := parseLastEventID(r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		sendError(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch := a.stream.Subscribe(workflowID, 256)
	defer a.stream.Unsubscribe(workflowID, ch)

	fmt.Fprintf(w, ": connected to workflow %s\n\n", workflowID)
	flusher.Flush()

	if replayed := a.stream.ReplaySince(workflowID, lastID); len(replayed) > 0 {
		for _, ev := range replayed {
			writeSSEEvent(w, ev, typeFilter)
		}
		flusher.Flush()
	}

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			a.logger.Debug("SSE client disconnected",
				zap.String("workflow_id", workflowID))
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if writeSSEEvent(w, ev, typeFilter) {
				flusher.Flush()
			}
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes one event in SSE wire format, honoring the type
// filter. It reports whether anything was written.
func writeSSEEvent(w http.ResponseWriter, ev streaming.Event, typeFilter map[string]struct{}) bool {
	if len(typeFilter) > 0 {
		if _, ok := typeFilter[string(ev.Type)]; !ok {
			return false
		}
	}
	fmt.Fprintf(w, "id: %d\n", ev.Seq)
	if ev.Type != "" {
		fmt.Fprintf(w, "event: %s\n", ev.Type)
	}
	fmt.Fprintf(w, "data: %s\n\n", ev.Marshal())
	return true
}

func parseTypeFilter(s string) map[string]struct{} {
	filter := map[string]struct{}{}
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter[t] = struct{}{}
		}
	}
	return filter
}

// parseLastEventID reads the replay position from the Last-Event-ID
// header, falling back to the last_event_id query parameter for clients
// that cannot set headers.
func parseLastEventID(r *http.Request) uint64 {
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			return n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
