package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/drivertest-bot/internal/response"
)

const pingTimeout = 2 * time.Second

// Pinger is anything with a liveness check (Redis, PostgreSQL).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RuntimeProbe reports in-process load.
type RuntimeProbe struct {
	// ActiveUsers is the number of users with queued or running chat work.
	ActiveUsers func() int
	// PendingTimers is the number of armed question timers.
	PendingTimers func() int
	// QueueDepth is the number of results waiting for the archive.
	QueueDepth func(ctx context.Context) (int64, error)
}

// SystemHandler serves health and runtime status.
type SystemHandler struct {
	deps      map[string]Pinger
	probe     RuntimeProbe
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler. deps maps a component name
// to its liveness check.
func NewSystemHandler(deps map[string]Pinger, probe RuntimeProbe, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		deps:      deps,
		probe:     probe,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

// Health godoc
// GET /health
// Returns 503 when any dependency fails its ping.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
	defer cancel()

	checks := make(map[string]string, len(h.deps))
	healthy := true
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			requestLog(c, h.log).Warn().Err(err).Str("dependency", name).Msg("Health check failed")
			checks[name] = "down"
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	if !healthy {
		response.FailWithData(c, http.StatusServiceUnavailable, response.ErrUpstreamUnavailable,
			gin.H{"status": "degraded", "checks": checks})
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "ok", "checks": checks})
}

type systemStatus struct {
	Uptime        string `json:"uptime"`
	Goroutines    int    `json:"goroutines"`
	HeapAlloc     uint64 `json:"heap_alloc"`
	NumGC         uint32 `json:"num_gc"`
	GoVersion     string `json:"go_version"`
	ActiveUsers   int    `json:"active_users"`
	PendingTimers int    `json:"pending_timers"`
	QueueResults  int64  `json:"queue_results"`
}

// Status godoc
// GET /api/v1/admin/system
func (h *SystemHandler) Status(c *gin.Context) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s := systemStatus{
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		NumGC:      ms.NumGC,
		GoVersion:  runtime.Version(),
	}
	if h.probe.ActiveUsers != nil {
		s.ActiveUsers = h.probe.ActiveUsers()
	}
	if h.probe.PendingTimers != nil {
		s.PendingTimers = h.probe.PendingTimers()
	}
	if h.probe.QueueDepth != nil {
		depth, err := h.probe.QueueDepth(c.Request.Context())
		if err != nil {
			requestLog(c, h.log).Warn().Err(err).Msg("Failed to read queue depth")
		}
		s.QueueResults = depth
	}

	response.Success(c, http.StatusOK, s)
}
