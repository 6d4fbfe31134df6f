package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/SikeGottem/agent-comms/internal/cache"
	"github.com/SikeGottem/agent-comms/internal/config"
	"github.com/SikeGottem/agent-comms/internal/coord"
	"github.com/SikeGottem/agent-comms/internal/errs"
	"github.com/SikeGottem/agent-comms/internal/events"
	"github.com/SikeGottem/agent-comms/internal/fanout"
	"github.com/SikeGottem/agent-comms/internal/identity"
	"github.com/SikeGottem/agent-comms/internal/messaging"
	"github.com/SikeGottem/agent-comms/internal/notify"
	"github.com/SikeGottem/agent-comms/internal/presence"
	"github.com/SikeGottem/agent-comms/internal/store"
	"github.com/SikeGottem/agent-comms/internal/store/postgres"
	"github.com/SikeGottem/agent-comms/internal/tasks"
	"github.com/SikeGottem/agent-comms/internal/workflow"
	"github.com/SikeGottem/agent-comms/pkg/models"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ServerOptions configures the HTTP server (home dir, listen addr, config, metrics).
type ServerOptions struct {
	Home           string
	Addr           string
	Dev            bool
	Config         *config.File // nil means config.Default()
	MetricsHandler http.Handler // if set, used for /metrics (e.g. OTel Prometheus handler)
	UseOtelHTTP    bool         // if true, wrap handler with otelhttp for request metrics
}

// App holds the HTTP server and every service behind it.
type App struct {
	Server   *http.Server
	Registry *fanout.Registry
	// EventRegistry carries event bus deliveries to /events/stream.
	EventRegistry *fanout.Registry
	Store         store.Store
	Cache         *cache.Cache
	Notify        *notify.Dispatcher
	Presence      *presence.Tracker
	Messaging     *messaging.Service
	Tasks         *tasks.Engine
	Workflows     *workflow.Engine
	Coord         *coord.Service
	Events        *events.Bus
	Issuer        *identity.Issuer // nil when no JWT secret is configured
	Home          string

	keepalive time.Duration
	metrics   http.Handler
}

// NewApp opens the store, wires the services to one fan-out registry and registers all routes.
func NewApp(opts ServerOptions) (*App, error) {
	cfg := config.Default()
	if opts.Config != nil {
		cfg = *opts.Config
	}

	var st store.Store
	var err error
	if cfg.DBDriver == "postgres" {
		st, err = postgres.Open(cfg.DBURL)
	} else {
		st, err = store.Open(opts.Home)
	}
	if err != nil {
		return nil, err
	}

	// The registry filters channel events through the messaging service, which
	// itself publishes to the registry.
	var svc *messaging.Service
	reg := fanout.New(
		fanout.WithAccessChecker(fanout.AccessFunc(func(ctx context.Context, channel, agent string) bool {
			return svc.CanAccess(ctx, channel, agent)
		})),
		fanout.WithBuffer(cfg.Stream.Buffer),
		fanout.WithWindow(cfg.Stream.BatchWindow),
		fanout.WithMaxBatch(cfg.Stream.MaxBatch),
	)

	// Event bus streams are separate from agent streams but follow the same
	// channel access rule.
	busReg := fanout.New(
		fanout.WithAccessChecker(fanout.AccessFunc(func(ctx context.Context, channel, agent string) bool {
			return svc.CanAccess(ctx, channel, agent)
		})),
		fanout.WithBuffer(cfg.Stream.Buffer),
		fanout.WithWindow(cfg.Stream.BatchWindow),
		fanout.WithMaxBatch(cfg.Stream.MaxBatch),
	)

	pr := presence.New(st, reg)
	if cfg.Presence.OnlineWindow > 0 {
		pr.Short = cfg.Presence.OnlineWindow
	}
	if cfg.Presence.AwayAfter > 0 {
		pr.Long = cfg.Presence.AwayAfter
	}

	c := cache.New()
	n := notify.NewDispatcher(cfg.SlackWebhookURL)
	svc = messaging.New(st, reg, pr, c, n)
	if cfg.Cache.RosterTTL > 0 {
		svc.RosterTTL = cfg.Cache.RosterTTL
	}
	if cfg.Cache.UnreadTTL > 0 {
		svc.UnreadTTL = cfg.Cache.UnreadTTL
	}

	te := tasks.New(st, reg, svc)
	if cfg.Tasks.ArchiveAfter > 0 {
		te.ArchiveAfter = cfg.Tasks.ArchiveAfter
	}
	if cfg.Tasks.StaleAfter > 0 {
		te.StaleAfter = cfg.Tasks.StaleAfter
	}

	app := &App{
		Registry:      reg,
		EventRegistry: busReg,
		Store:         st,
		Cache:         c,
		Notify:        n,
		Presence:      pr,
		Messaging:     svc,
		Tasks:         te,
		Workflows:     workflow.New(st, reg, svc),
		Coord:         coord.New(st, reg, svc),
		Events:        events.New(st, busReg, n),
		Issuer:        identity.NewIssuer(cfg.JWTSecret, cfg.TokenTTL),
		Home:          opts.Home,
		keepalive:     cfg.Stream.Keepalive,
		metrics:       opts.MetricsHandler,
	}
	if app.keepalive <= 0 {
		app.keepalive = 15 * time.Second
	}

	mux := http.NewServeMux()
	app.routes(mux)

	var handler http.Handler = mux
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "agent-comms",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}))
	}
	handler = requestLogMiddleware(handler)
	handler = rateLimitMiddleware(newRateLimiter(cfg.RateLimit), handler)
	handler = identityMiddleware(app.Issuer, handler)
	if cfg.APIKey != "" {
		handler = apiKeyMiddleware(cfg.APIKey, handler)
	}
	if opts.Dev {
		handler = corsMiddleware(handler)
	}
	handler = bodyLimitMiddleware(models.DefaultMaxRequestBodyBytes, handler)

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: /stream and /ws hold the response open.
		IdleTimeout: 60 * time.Second,
	}
	srv.RegisterOnShutdown(func() {
		n.Wait()
		_ = st.Close()
	})
	app.Server = srv
	return app, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONError sends a JSON body {"error": "message"} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	writeJSONStatus(w, code, map[string]any{"error": message})
}

// writeError maps a service error to its status. Conflict state is merged into the body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.Status(err)
	if code == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	body := map[string]any{"error": err.Error()}
	for k, v := range errs.State(err) {
		body[k] = v
	}
	writeJSONStatus(w, code, body)
}

// decode reads a JSON body into v and writes a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// queryInt parses an integer query parameter, returning def when absent or malformed.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// actor resolves who a request acts as. An explicit claim wins unless the
// caller holds a verified token for a different agent.
func (a *App) actor(r *http.Request, claimed string) (string, error) {
	caller := identity.AgentFrom(r.Context())
	if claimed == "" {
		return caller, nil
	}
	if a.Issuer != nil && caller != "" && caller != claimed {
		return "", errs.Forbidden("token is for %s, not %s", caller, claimed)
	}
	return claimed, nil
}

func okBody() map[string]any { return map[string]any{"ok": true} }
