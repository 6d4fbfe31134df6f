package httpapi

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/SikeGottem/agent-comms/pkg/models"
)

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	err := a.Store.Ping(r.Context())
	h := models.Health{
		Status:        "ok",
		DBLatencyMS:   time.Since(start).Milliseconds(),
		ActiveStreams: a.Registry.Connections(),
		Timestamp:     time.Now().UnixMilli(),
	}
	if err != nil {
		h.Status = "degraded"
		h.Error = err.Error()
		writeJSONStatus(w, http.StatusServiceUnavailable, h)
		return
	}
	writeJSON(w, h)
}

// handleMetrics serves the OTel Prometheus handler, or a minimal text
// exposition of task counts and live streams when metrics are disabled.
func (a *App) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if a.metrics != nil {
		a.metrics.ServeHTTP(w, r)
		return
	}
	counts, err := a.Tasks.StatusCounts(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, "# TYPE agentcomms_tasks_total gauge\n")
	for _, s := range statuses {
		_, _ = fmt.Fprintf(w, "agentcomms_tasks_total{status=%q} %d\n", s, counts[s])
	}
	_, _ = fmt.Fprintf(w, "# TYPE agentcomms_stream_connections gauge\n")
	_, _ = fmt.Fprintf(w, "agentcomms_stream_connections %d\n", a.Registry.Connections())
}
