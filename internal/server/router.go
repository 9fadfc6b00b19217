// Package server exposes the control-plane HTTP surface: file sync,
// dependency installs, dev-server lifecycle, the live log stream, health and
// metrics.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/devplane/devplane/internal/broadcast"
	"github.com/devplane/devplane/internal/installer"
	"github.com/devplane/devplane/internal/metrics"
	"github.com/devplane/devplane/internal/prewarm"
	"github.com/devplane/devplane/internal/supervisor"
	"github.com/devplane/devplane/internal/syncer"
)

// Router wires the HTTP handlers to the control-plane components.
type Router struct {
	sup  *supervisor.Supervisor
	sync *syncer.Syncer
	inst *installer.Installer
	bc   *broadcast.Broadcaster
	log  *slog.Logger

	metricsEnabled bool
}

// Config collects the router's collaborators. All fields except Logger are
// required.
type Config struct {
	Supervisor  *supervisor.Supervisor
	Syncer      *syncer.Syncer
	Installer   *installer.Installer
	Broadcaster *broadcast.Broadcaster
	Logger      *slog.Logger

	MetricsEnabled bool
}

func NewRouter(cfg Config) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Router{
		sup:            cfg.Supervisor,
		sync:           cfg.Syncer,
		inst:           cfg.Installer,
		bc:             cfg.Broadcaster,
		log:            cfg.Logger,
		metricsEnabled: cfg.MetricsEnabled,
	}
}

// Handler returns the gin-powered http.Handler, mountable in any server.
func (rt *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.Use(corsMiddleware())

	g.POST("/sync", rt.handleSync)
	g.POST("/dependencies/install", rt.handleInstall)
	// Retained alias for clients predating the /dependencies prefix.
	g.POST("/dev/install", rt.handleInstall)
	g.GET("/dev/status", rt.handleStatus)
	g.POST("/dev/start", rt.handleStart)
	g.POST("/dev/stop", rt.handleStop)
	g.POST("/dev/restart", rt.handleRestart)
	g.GET("/dev/logs", rt.handleLogs)
	g.GET("/health", rt.handleHealth)
	if rt.metricsEnabled {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, rt *Router) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           rt.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type syncRequest struct {
	Files            map[string]string `json:"files"`
	DeletedFilePaths []string          `json:"deleted_file_paths"`
	Prewarm          *prewarm.Config   `json:"prewarm,omitempty"`
}

type syncResp struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (rt *Router) handleSync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "Invalid JSON body"})
		return
	}

	manifestChanged, err := rt.sync.Apply(syncer.Batch{
		Files:   req.Files,
		Deletes: req.DeletedFilePaths,
	})
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}

	message := "Files synced successfully"
	if manifestChanged {
		rt.bc.Submit("--- package.json updated. Reconciling dependencies... ---", false)
		err := rt.inst.Reconcile(c.Request.Context(), rt.bc)
		rt.bc.Submit("--- Dependency reconciliation finished. ---", false)
		if err != nil {
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
			return
		}
		message += ". Dependencies reconciled successfully."
	}

	rt.sup.Prewarm(req.Prewarm)
	writeJSON(c, http.StatusOK, syncResp{Success: true, Message: message})
}

type installRequest struct {
	ExtraArgs []string `json:"extra_args"`
}

func (rt *Router) handleInstall(c *gin.Context) {
	var req installRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "Invalid request body"})
			return
		}
	}

	res, err := rt.inst.Install(c.Request.Context(), req.ExtraArgs)
	if err != nil {
		rt.log.Warn("dependency install failed", "exit_code", res.ExitCode, "error", err)
		writeJSON(c, http.StatusInternalServerError, gin.H{
			"success":       false,
			"exit_code":     res.ExitCode,
			"error_message": res.Output,
		})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"success": true, "exit_code": 0})
}

func (rt *Router) handleStatus(c *gin.Context) {
	st := rt.sup.Status()
	if !st.Running {
		writeJSON(c, http.StatusOK, gin.H{"running": false, "pid": nil})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"running": true, "pid": st.PID})
}

type devOpRequest struct {
	Prewarm *prewarm.Config `json:"prewarm,omitempty"`
}

type devOpResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	// Included only for start/restart operations.
	PID         int  `json:"pid,omitempty"`
	ForceKilled bool `json:"force_killed,omitempty"`
}

func bindDevOp(c *gin.Context) (devOpRequest, bool) {
	var req devOpRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "Invalid JSON body: " + err.Error()})
			return req, false
		}
	}
	return req, true
}

func conflictStatus(err error) int {
	if errors.Is(err, supervisor.ErrAlreadyRunning) || errors.Is(err, supervisor.ErrPortInUse) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (rt *Router) handleStart(c *gin.Context) {
	req, ok := bindDevOp(c)
	if !ok {
		return
	}
	pid, err := rt.sup.Start(req.Prewarm)
	if err != nil {
		writeJSON(c, conflictStatus(err), errorResp{Error: "Failed to start dev server: " + err.Error()})
		return
	}
	writeJSON(c, http.StatusAccepted, devOpResponse{
		Success: true,
		Message: "Dev server started successfully",
		PID:     pid,
	})
}

func (rt *Router) handleStop(c *gin.Context) {
	wasRunning := rt.sup.Status().Running
	forced, err := rt.sup.Stop()
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "Failed to stop dev server: " + err.Error()})
		return
	}
	message := "Dev server stopped successfully"
	if !wasRunning {
		message = "Dev server not running"
	}
	writeJSON(c, http.StatusOK, devOpResponse{
		Success:     true,
		Message:     message,
		ForceKilled: forced,
	})
}

func (rt *Router) handleRestart(c *gin.Context) {
	req, ok := bindDevOp(c)
	if !ok {
		return
	}
	pid, forced, err := rt.sup.Restart(req.Prewarm)
	if err != nil {
		writeJSON(c, conflictStatus(err), errorResp{Error: "Failed to start dev server: " + err.Error()})
		return
	}
	writeJSON(c, http.StatusAccepted, devOpResponse{
		Success:     true,
		Message:     "Dev server restarted successfully",
		PID:         pid,
		ForceKilled: forced,
	})
}

func (rt *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
