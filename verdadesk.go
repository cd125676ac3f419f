package verdadesk

import (
	"net/http"
	"time"

	cfg "github.com/npmint/verdadesk/internal/config"
	"github.com/npmint/verdadesk/internal/history"
	"github.com/npmint/verdadesk/internal/logbuf"
	"github.com/npmint/verdadesk/internal/metrics"
	"github.com/npmint/verdadesk/internal/packages"
	"github.com/npmint/verdadesk/internal/registry"
	iapi "github.com/npmint/verdadesk/internal/server"
	"github.com/npmint/verdadesk/internal/settings"
	"github.com/npmint/verdadesk/internal/supervisor"
	"github.com/npmint/verdadesk/internal/users"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Status = supervisor.Status

type State = supervisor.State

type Options = supervisor.Options

type Spawner = supervisor.Spawner

type Handle = supervisor.Handle

type Event = supervisor.Event

type LaunchSpec = supervisor.LaunchSpec

type LogEntry = logbuf.Entry

type Paths = registry.Paths

type HistorySink = history.Sink

type Settings = settings.Settings

// Registry is a thin facade over internal/supervisor.Supervisor.
// It provides a stable public API for embedding.

type Registry struct{ inner *supervisor.Supervisor }

func New() *Registry { return NewWithOptions(Options{}) }

func NewWithOptions(opts Options) *Registry {
	return &Registry{inner: supervisor.New(opts)}
}

func (r *Registry) Start(port uint16, allowLAN bool) (Status, error) {
	return r.inner.Start(port, allowLAN)
}
func (r *Registry) Stop() error { return r.inner.Stop() }

// Restart stops the registry if it is running, then starts it again.
func (r *Registry) Restart(port uint16, allowLAN bool) (Status, error) {
	if err := r.inner.Stop(); err != nil {
		return Status{}, err
	}
	return r.inner.Start(port, allowLAN)
}

func (r *Registry) Status() Status   { return r.inner.Status() }
func (r *Registry) State() State     { return r.inner.State() }
func (r *Registry) Logs() []LogEntry { return r.inner.Logs() }
func (r *Registry) ClearLogs()       { r.inner.ClearLogs() }
func (r *Registry) Paths() Paths     { return r.inner.Paths() }

func LoadConfig(path string) (cfg.Config, error) {
	return cfg.Load(path)
}

// NewHTTPServer starts an HTTP server exposing the control API for the
// given registry.
func NewHTTPServer(addr, basePath string, r *Registry) (*http.Server, error) {
	p := r.inner.Paths()
	return iapi.NewServer(addr, iapi.Options{
		Supervisor:           r.inner,
		Catalog:              packages.NewCatalog(p.StoragePath()),
		Users:                users.NewStore(p.HtpasswdPath()),
		Settings:             settings.DefaultStore(),
		PackageJSONResolvers: registry.PackageJSONResolvers(""),
		BasePath:             basePath,
	})
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
