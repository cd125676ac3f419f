package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/npmint/verdadesk/internal/metrics"
	"github.com/npmint/verdadesk/internal/packages"
	"github.com/npmint/verdadesk/internal/registry"
	"github.com/npmint/verdadesk/internal/settings"
	"github.com/npmint/verdadesk/internal/supervisor"
	"github.com/npmint/verdadesk/internal/users"
)

// Router provides embeddable HTTP handlers for controlling the registry.
// Endpoints (relative to basePath):
//
//	GET    /registry/status
//	POST   /registry/start       body: {"port": 4873, "allow_lan": false} (optional)
//	POST   /registry/stop
//	POST   /registry/restart     body: same as start
//	GET    /registry/logs
//	DELETE /registry/logs
//	GET    /registry/version
//	GET    /registry/config
//	PUT    /registry/config      body: {"content": "..."}
//	POST   /registry/config/reset
//	GET    /packages             query: type, page, page_size
//	GET    /packages/count       query: type
//	DELETE /packages             query: name (single) or type (bulk)
//	GET    /users
//	GET    /users/count
//	POST   /users                body: {"username": "...", "password": "..."}
//	DELETE /users/:username
//	PUT    /users/:username/password  body: {"password": "..."}
//	GET    /settings
//	PUT    /settings             body: settings JSON
//	GET    /metrics
//	GET    /healthz
type Router struct {
	sup      *supervisor.Supervisor
	catalog  *packages.Catalog
	users    *users.Store
	settings *settings.Store
	pkgJSON  []registry.Resolver
	basePath string
}

// Options wires the router's collaborators.
type Options struct {
	Supervisor *supervisor.Supervisor
	Catalog    *packages.Catalog
	Users      *users.Store
	Settings   *settings.Store

	// PackageJSONResolvers locate the bundled verdaccio manifest for
	// the version endpoint.
	PackageJSONResolvers []registry.Resolver

	BasePath string
}

// NewRouter constructs a Router with a configurable basePath.
// Example basePath "/api" results in /api/registry/status etc.
func NewRouter(o Options) *Router {
	return &Router{
		sup:      o.Supervisor,
		catalog:  o.Catalog,
		users:    o.Users,
		settings: o.Settings,
		pkgJSON:  o.PackageJSONResolvers,
		basePath: sanitizeBase(o.BasePath),
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)

	group.GET("/registry/status", r.handleStatus)
	group.POST("/registry/start", r.handleStart)
	group.POST("/registry/stop", r.handleStop)
	group.POST("/registry/restart", r.handleRestart)
	group.GET("/registry/logs", r.handleLogs)
	group.DELETE("/registry/logs", r.handleClearLogs)
	group.GET("/registry/version", r.handleVersion)
	group.GET("/registry/config", r.handleGetConfig)
	group.PUT("/registry/config", r.handleSaveConfig)
	group.POST("/registry/config/reset", r.handleResetConfig)

	group.GET("/packages", r.handleListPackages)
	group.GET("/packages/count", r.handleCountPackages)
	group.DELETE("/packages", r.handleDeletePackages)

	group.GET("/users", r.handleListUsers)
	group.GET("/users/count", r.handleCountUsers)
	group.POST("/users", r.handleAddUser)
	group.DELETE("/users/:username", r.handleDeleteUser)
	group.PUT("/users/:username/password", r.handleChangePassword)

	group.GET("/settings", r.handleGetSettings)
	group.PUT("/settings", r.handleSaveSettings)

	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	group.GET("/healthz", func(c *gin.Context) { writeJSON(c, http.StatusOK, okResp{OK: true}) })

	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// The listener is bound before the serving goroutine starts, so an
// unavailable address fails fast instead of leaving a dead server up.
func NewServer(addr string, o Options) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	r := NewRouter(o)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.Serve(ln) }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type statusResp struct {
	supervisor.Status
	State string `json:"state"`
}

type launchReq struct {
	Port     uint16 `json:"port"`
	AllowLAN bool   `json:"allow_lan"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, statusResp{
		Status: r.sup.Status(),
		State:  string(r.sup.State()),
	})
}

func (r *Router) handleStart(c *gin.Context) {
	req, ok := bindLaunch(c)
	if !ok {
		return
	}
	st, err := r.sup.Start(req.Port, req.AllowLAN)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, supervisor.ErrAlreadyRunning) {
			code = http.StatusConflict
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, statusResp{Status: st, State: string(r.sup.State())})
}

func (r *Router) handleStop(c *gin.Context) {
	if err := r.sup.Stop(); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRestart(c *gin.Context) {
	req, ok := bindLaunch(c)
	if !ok {
		return
	}
	if req.Port == 0 {
		req.Port = r.currentPort()
	}
	if err := r.sup.Stop(); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	st, err := r.sup.Start(req.Port, req.AllowLAN)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, statusResp{Status: st, State: string(r.sup.State())})
}

func bindLaunch(c *gin.Context) (launchReq, bool) {
	var req launchReq
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
			return launchReq{}, false
		}
	}
	return req, true
}

func (r *Router) handleLogs(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Logs())
}

func (r *Router) handleClearLogs(c *gin.Context) {
	r.sup.ClearLogs()
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

type versionResp struct {
	Version string `json:"version"`
}

func (r *Router) handleVersion(c *gin.Context) {
	v, err := registry.Version(r.pkgJSON)
	if err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, versionResp{Version: v})
}

type configResp struct {
	Content string `json:"content"`
}

func (r *Router) handleGetConfig(c *gin.Context) {
	content, err := r.sup.Paths().ReadConfig()
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, registry.ErrConfigNotFound) {
			code = http.StatusNotFound
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, configResp{Content: content})
}

func (r *Router) handleSaveConfig(c *gin.Context) {
	var req configResp
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Content == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "content required"})
		return
	}
	if err := r.sup.Paths().SaveConfig(req.Content); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleResetConfig(c *gin.Context) {
	if err := r.sup.Paths().ResetToDefault(); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleListPackages(c *gin.Context) {
	typ, err := packages.ParseType(c.Query("type"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	page := intQuery(c, "page", 1)
	pageSize := intQuery(c, "page_size", 20)
	result, err := r.catalog.List(c.Request.Context(), r.currentPort(), typ, page, pageSize)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, result)
}

type countResp struct {
	Count int `json:"count"`
}

func (r *Router) handleCountPackages(c *gin.Context) {
	typ, err := packages.ParseType(c.Query("type"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	n, err := r.catalog.Count(c.Request.Context(), r.currentPort(), typ)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, countResp{Count: n})
}

type deletedResp struct {
	Deleted int `json:"deleted"`
}

func (r *Router) handleDeletePackages(c *gin.Context) {
	name := c.Query("name")
	if name != "" {
		if !isSafePackageName(name) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid package name"})
			return
		}
		if err := r.catalog.Delete(name); err != nil {
			code := http.StatusBadRequest
			if errors.Is(err, packages.ErrPackageNotFound) {
				code = http.StatusNotFound
			}
			writeJSON(c, code, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusOK, deletedResp{Deleted: 1})
		return
	}

	typ, err := packages.ParseType(c.Query("type"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	n, err := r.catalog.DeleteAll(c.Request.Context(), r.currentPort(), typ)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, deletedResp{Deleted: n})
}

func (r *Router) handleListUsers(c *gin.Context) {
	list, err := r.users.List()
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, list)
}

func (r *Router) handleCountUsers(c *gin.Context) {
	n, err := r.users.Count()
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, countResp{Count: n})
}

type userReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r *Router) handleAddUser(c *gin.Context) {
	var req userReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := r.users.Add(req.Username, req.Password); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, users.ErrUserExists) {
			code = http.StatusConflict
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleDeleteUser(c *gin.Context) {
	err := r.users.Remove(c.Param("username"))
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, users.ErrNoSuchUser) || errors.Is(err, users.ErrNoUsersFile) {
			code = http.StatusNotFound
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleChangePassword(c *gin.Context) {
	var req struct {
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	err := r.users.SetPassword(c.Param("username"), req.Password)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, users.ErrNoSuchUser) || errors.Is(err, users.ErrNoUsersFile) {
			code = http.StatusNotFound
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleGetSettings(c *gin.Context) {
	s, err := r.settings.Load()
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, s)
}

func (r *Router) handleSaveSettings(c *gin.Context) {
	s := settings.Defaults()
	if err := c.ShouldBindJSON(&s); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := r.settings.Save(s); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// currentPort is the port used for registry data API lookups: the last
// port the supervisor ran on, or the default when it never started.
func (r *Router) currentPort() uint16 {
	if p := r.sup.Status().Port; p != 0 {
		return p
	}
	return supervisor.DefaultPort
}
