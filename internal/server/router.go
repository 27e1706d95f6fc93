package server

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/loykin/twinwatch/internal/auth"
	"github.com/loykin/twinwatch/internal/history"
	"github.com/loykin/twinwatch/internal/metrics"
	"github.com/loykin/twinwatch/internal/registry"
	"github.com/loykin/twinwatch/internal/watchdog"
)

// Watchdog is the subset of *watchdog.Watchdog the API drives.
type Watchdog interface {
	Status() watchdog.Status
	RunOnce(ctx context.Context) watchdog.RunResult
	SetInterval(d time.Duration) time.Duration
	UpdatePID(id string, pid int) error
	UnregisterProcess(id string)
	Process(id string) (registry.TrackedProcess, bool)
}

// Default run-once limiter: one pass per second with a small burst.
const (
	DefaultRunOnceRate  = rate.Limit(1)
	DefaultRunOnceBurst = 3
)

// maxHistoryLimit caps ?limit on /history.
const maxHistoryLimit = 1000

// maxIntervalSeconds is the largest interval a time.Duration can hold.
const maxIntervalSeconds = float64(math.MaxInt64 / int64(time.Second))

// Options tunes the router. The zero value serves without auth, without
// history queries and with the default run-once limit.
type Options struct {
	Auth         *auth.Service
	History      history.Reader
	RunOnceRate  rate.Limit
	RunOnceBurst int
	Logger       *slog.Logger
}

// Router exposes the watchdog admin API. Endpoints, relative to basePath:
//
//	GET    /status               scheduler and per-process snapshot
//	GET    /processes/:id        one process
//	GET    /history              restart events (?process=ID&limit=N)
//	POST   /run-once             synchronous check pass (rate limited)
//	POST   /interval?seconds=N   change the check interval
//	POST   /processes/:id/pid    body {"pid": N}
//	DELETE /processes/:id        stop tracking
//	GET    /metrics              Prometheus exposition
//	POST   /login                exchange basic credentials for a token
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	wd       Watchdog
	basePath string
	auth     *auth.Service
	history  history.Reader
	limiter  *rate.Limiter
	log      *slog.Logger
}

// NewRouter constructs a Router. Example basePath: "/api" serves /api/status.
func NewRouter(wd Watchdog, basePath string, opts Options) *Router {
	r := &Router{
		wd:       wd,
		basePath: normalizeBase(basePath),
		auth:     opts.Auth,
		history:  opts.History,
		log:      opts.Logger,
	}
	lim, burst := opts.RunOnceRate, opts.RunOnceBurst
	if lim <= 0 {
		lim = DefaultRunOnceRate
	}
	if burst <= 0 {
		burst = DefaultRunOnceBurst
	}
	r.limiter = rate.NewLimiter(lim, burst)
	if r.log == nil {
		r.log = slog.Default()
	}
	r.log = r.log.With("component", "api")
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.accessLog())
	base := g.Group(r.basePath)
	base.POST("/login", r.handleLogin)

	api := base.Group("", auth.GinAuth(r.auth))
	api.GET("/status", r.handleStatus)
	api.GET("/processes/:id", r.handleProcess)
	api.GET("/history", r.handleHistory)
	api.GET("/metrics", gin.WrapH(metrics.Handler()))

	write := api.Group("", auth.GinRequireWrite(r.auth))
	write.POST("/run-once", r.handleRunOnce)
	write.POST("/interval", r.handleInterval)
	write.POST("/processes/:id/pid", r.handleUpdatePID)
	write.DELETE("/processes/:id", r.handleUnregister)
	return g
}

// NewServer builds, but does not start, an HTTP server for the router.
func NewServer(addr, basePath string, wd Watchdog, opts ...Options) *http.Server {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	r := NewRouter(wd, basePath, o)
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// run-once executes restarts synchronously
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type intervalResp struct {
	Interval        string  `json:"interval"`
	IntervalSeconds float64 `json:"interval_seconds"`
}

type pidReq struct {
	PID int `json:"pid"`
}

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.wd.Status())
}

func (r *Router) handleProcess(c *gin.Context) {
	id, ok := processID(c)
	if !ok {
		return
	}
	st := r.wd.Status()
	ps, ok := st.Processes[id]
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: registry.ErrNotFound.Error()})
		return
	}
	writeJSON(c, http.StatusOK, ps)
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.history == nil {
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: "no queryable history sink configured"})
		return
	}
	process := c.Query("process")
	if process != "" && !validProcessID(process) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid process id " + quoteID(process)})
		return
	}
	limit := history.DefaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be between 1 and " + strconv.Itoa(maxHistoryLimit)})
			return
		}
		limit = n
	}
	events, err := r.history.Recent(c.Request.Context(), process, limit)
	if err != nil {
		r.log.Error("history query failed", "process", process, "error", err)
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "history query failed"})
		return
	}
	writeJSON(c, http.StatusOK, events)
}

func (r *Router) handleRunOnce(c *gin.Context) {
	if !r.limiter.Allow() {
		c.Header("Retry-After", "1")
		writeJSON(c, http.StatusTooManyRequests, errorResp{Error: "run-once rate limit exceeded"})
		return
	}
	writeJSON(c, http.StatusOK, r.wd.RunOnce(c.Request.Context()))
}

func (r *Router) handleInterval(c *gin.Context) {
	raw := c.Query("seconds")
	if raw == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "seconds query param required"})
		return
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(secs) || secs < 0 || secs > maxIntervalSeconds {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "seconds must be a finite number between 0 and " +
			strconv.FormatFloat(maxIntervalSeconds, 'f', 0, 64)})
		return
	}
	got := r.wd.SetInterval(time.Duration(secs * float64(time.Second)))
	writeJSON(c, http.StatusOK, intervalResp{Interval: got.String(), IntervalSeconds: got.Seconds()})
}

func (r *Router) handleUpdatePID(c *gin.Context) {
	id, ok := processID(c)
	if !ok {
		return
	}
	var req pidReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.PID <= 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "pid must be positive"})
		return
	}
	if err := r.wd.UpdatePID(id, req.PID); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, registry.ErrNotFound) {
			code = http.StatusNotFound
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleUnregister(c *gin.Context) {
	id, ok := processID(c)
	if !ok {
		return
	}
	r.wd.UnregisterProcess(id)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleLogin(c *gin.Context) {
	if !r.auth.Enabled() {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "authentication disabled"})
		return
	}
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	tok, err := r.auth.Login(req.Username, req.Password)
	if err != nil {
		code := http.StatusUnauthorized
		if errors.Is(err, auth.ErrNoSecret) {
			code = http.StatusNotImplemented
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, tok)
}

func (r *Router) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.log.Debug("request", "method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status(), "duration", time.Since(start))
	}
}
