package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"sdfmover/engine/internal/logging"
	"sdfmover/engine/internal/replay"
	"sdfmover/engine/internal/simulation"
)

// Status is the host state surfaced to readiness probes and metrics.
type Status struct {
	Ticks            uint64
	Uptime           time.Duration
	Step             time.Duration
	ContactState     string
	TickTimings      simulation.TickMetricsSnapshot
	LoopDropped      uint64
	Subscribers      int
	TelemetryDropped uint64
	ReplayFrames     uint64
	ReplayStorage    replay.StorageStats
}

// StatusFunc samples the host state.
type StatusFunc func() Status

// ReplayFlusher forces buffered replay frames to disk and returns the bundle location.
type ReplayFlusher interface {
	FlushReplay(ctx context.Context) (string, error)
}

// ReplayFlusherFunc adapts a function into a ReplayFlusher.
type ReplayFlusherFunc func(ctx context.Context) (string, error)

// FlushReplay implements ReplayFlusher.
func (f ReplayFlusherFunc) FlushReplay(ctx context.Context) (string, error) { return f(ctx) }

// Options configures the HandlerSet.
type Options struct {
	Logger     *logging.Logger
	Status     StatusFunc
	Replay     ReplayFlusher
	AdminToken string
	// FlushCooldown is the minimum spacing between accepted manual flushes.
	FlushCooldown time.Duration
	TimeSource    func() time.Time
}

// HandlerSet bundles the operational HTTP endpoints of the mover host.
type HandlerSet struct {
	logger     *logging.Logger
	status     StatusFunc
	replay     ReplayFlusher
	adminToken string
	cooldown   time.Duration
	now        func() time.Time

	flushMu   sync.Mutex
	lastFlush time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:     logger,
		status:     opts.Status,
		replay:     opts.Replay,
		adminToken: strings.TrimSpace(opts.AdminToken),
		cooldown:   opts.FlushCooldown,
		now:        now,
	}
}

// Register attaches all handlers to mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/healthz", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/replay/flush", h.ReplayFlushHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports ready once the simulation has completed a tick.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Ticks         uint64  `json:"ticks"`
		ContactState  string  `json:"contact_state,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if h.status == nil {
			writeJSON(w, http.StatusServiceUnavailable, response{Status: "error", Message: "status unavailable"})
			return
		}
		current := h.status()
		resp := response{
			Status:        "ok",
			UptimeSeconds: current.Uptime.Seconds(),
			Ticks:         current.Ticks,
			ContactState:  current.ContactState,
		}
		code := http.StatusOK
		if current.Ticks == 0 {
			code = http.StatusServiceUnavailable
			resp.Status = "starting"
			resp.Message = "simulation has not ticked yet"
		}
		writeJSON(w, code, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var current Status
		if h.status != nil {
			current = h.status()
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		gauge := func(name, help string, value float64) {
			fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %g\n", name, help, name, name, value)
		}
		counter := func(name, help string, value uint64) {
			fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, value)
		}

		gauge("mover_uptime_seconds", "Host uptime in seconds.", current.Uptime.Seconds())
		counter("mover_ticks_total", "Physics ticks simulated.", current.Ticks)
		counter("mover_loop_dropped_steps_total", "Fixed steps skipped after a stall.", current.LoopDropped)
		gauge("mover_tick_duration_avg_seconds", "Average tick compute time.", current.TickTimings.Average.Seconds())
		gauge("mover_tick_duration_max_seconds", "Slowest tick compute time.", current.TickTimings.Max.Seconds())
		gauge("mover_tick_jitter_seconds", "Standard deviation of recent tick compute times.", current.TickTimings.Jitter.Seconds())
		gauge("mover_tick_utilisation", "Share of the fixed step spent computing.", current.TickTimings.Utilisation(current.Step))

		fmt.Fprintf(w, "# HELP mover_contact_state Current contact state of the body.\n# TYPE mover_contact_state gauge\n")
		for _, state := range []string{"free", "contacting", "buried"} {
			value := 0
			if state == current.ContactState {
				value = 1
			}
			fmt.Fprintf(w, "mover_contact_state{state=%q} %d\n", state, value)
		}

		gauge("mover_telemetry_subscribers", "Connected telemetry subscribers.", float64(current.Subscribers))
		counter("mover_telemetry_dropped_total", "Snapshots skipped for lagging subscribers.", current.TelemetryDropped)
		counter("mover_replay_frames_total", "Frames recorded into the active replay.", current.ReplayFrames)
		gauge("mover_replay_runs", "Replay bundles retained on disk.", float64(current.ReplayStorage.Runs))
		gauge("mover_replay_bytes", "Disk footprint of retained replay bundles.", float64(current.ReplayStorage.Bytes))
	}
}

// ReplayFlushHandler authorises and triggers a flush of the active replay.
func (h *HandlerSet) ReplayFlushHandler() http.HandlerFunc {
	type response struct {
		Status   string `json:"status"`
		Location string `json:"location,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "replay_flush"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("replay flush denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("replay flush denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.replay == nil {
			http.Error(w, "replay recording is disabled", http.StatusServiceUnavailable)
			return
		}
		if !h.allowFlush() {
			reqLogger.Warn("replay flush denied: cooldown active")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		location, err := h.replay.FlushReplay(r.Context())
		if err != nil {
			reqLogger.Error("replay flush failed", logging.Error(err))
			http.Error(w, "failed to flush replay", http.StatusInternalServerError)
			return
		}
		reqLogger.Info("replay flushed", logging.String("location", location))
		writeJSON(w, http.StatusAccepted, response{Status: "accepted", Location: location})
	}
}

func (h *HandlerSet) allowFlush() bool {
	h.flushMu.Lock()
	defer h.flushMu.Unlock()
	now := h.now()
	if h.cooldown > 0 && !h.lastFlush.IsZero() && now.Sub(h.lastFlush) < h.cooldown {
		return false
	}
	h.lastFlush = now
	return true
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	token := header
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
