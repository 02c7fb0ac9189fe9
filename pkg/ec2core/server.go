// Package ec2core serves the EC2 Query API for instance lifecycle calls on
// top of the instance registry, the lifecycle controller, the attribute
// manager and the query engine.
package ec2core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fiam/ec2core/pkg/ec2core/api"
	"github.com/fiam/ec2core/pkg/ec2core/attributes"
	"github.com/fiam/ec2core/pkg/ec2core/config"
	"github.com/fiam/ec2core/pkg/ec2core/docker"
	"github.com/fiam/ec2core/pkg/ec2core/executor"
	"github.com/fiam/ec2core/pkg/ec2core/format"
	"github.com/fiam/ec2core/pkg/ec2core/idempotency"
	"github.com/fiam/ec2core/pkg/ec2core/lifecycle"
	"github.com/fiam/ec2core/pkg/ec2core/metrics"
	"github.com/fiam/ec2core/pkg/ec2core/query"
	"github.com/fiam/ec2core/pkg/ec2core/registry"
	"github.com/fiam/ec2core/pkg/ec2core/sim"
	"github.com/fiam/ec2core/pkg/ec2core/storage"
)

const readHeaderTimeout = 10 * time.Second

type Dispatcher interface {
	Exec(ctx context.Context, req api.Request) (api.Response, error)
}

type Server struct {
	server   *http.Server
	format   format.Format
	dispatch Dispatcher
	opts     options

	exe        executor.Executor
	store      storage.Storage
	metrics    *metrics.Metrics
	stopRun    context.CancelFunc
	runDone    chan error
	closeOnce  sync.Once
	closeError error
}

// NewServer builds the server and its backend and starts applying backend
// events. Instances found in persistent storage are handed back to the
// backend before NewServer returns.
func NewServer(ctx context.Context, addr string, opts ...Option) (_ *Server, err error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	cfg, err := o.effectiveConfig()
	if err != nil {
		return nil, err
	}

	var cleanup []func() error
	defer func() {
		if err != nil {
			var errs []error
			for i := len(cleanup) - 1; i >= 0; i-- {
				errs = append(errs, cleanup[i]())
			}
			if cerr := errors.Join(errs...); cerr != nil {
				o.Logger.Warn("cleaning up after failed initialization", slog.Any("error", cerr))
			}
		}
	}()

	m := o.Metrics
	if m == nil {
		if m, err = metrics.New(); err != nil {
			return nil, fmt.Errorf("initializing metrics: %w", err)
		}
		cleanup = append(cleanup, func() error { return m.Shutdown(context.Background()) })
	}
	store := o.Storage
	if store == nil {
		if store, err = newStorage(cfg); err != nil {
			return nil, fmt.Errorf("initializing storage: %w", err)
		}
	}
	cleanup = append(cleanup, store.Close)
	exe := o.Executor
	if exe == nil {
		if exe, err = newExecutor(ctx, cfg, o.Logger); err != nil {
			return nil, fmt.Errorf("initializing executor: %w", err)
		}
	}
	cleanup = append(cleanup, exe.Close)

	reg := registry.New(store)
	tracker := idempotency.New(idempotency.WithRetention(cfg.IdempotencyRetention.Duration))
	cat := catalog{cfg: cfg}
	controller, err := lifecycle.New(lifecycle.Settings{
		Region:              cfg.Region,
		OwnerID:             cfg.OwnerID,
		AvailabilityZones:   cfg.AvailabilityZones,
		DefaultInstanceType: cfg.DefaultInstanceType,
		Capacity:            cfg.Capacity,
		PrivateCIDR:         cfg.Network.PrivateCIDR,
		PublicCIDR:          cfg.Network.PublicCIDR,
	}, reg, tracker, cat, exe,
		lifecycle.WithMetrics(m),
		lifecycle.WithLogger(o.Logger),
		lifecycle.WithTerminatedRetention(cfg.TerminatedRetention.Duration),
		lifecycle.WithReaperInterval(cfg.ReaperInterval.Duration),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing lifecycle controller: %w", err)
	}
	if err := controller.Restore(ctx); err != nil {
		return nil, fmt.Errorf("restoring instances: %w", err)
	}

	srv := &Server{
		format:   &format.XML{},
		dispatch: newDispatcher(cfg, controller, attributes.NewManager(reg, cat), query.NewEngine(reg)),
		opts:     o,
		exe:      exe,
		store:    store,
		metrics:  m,
		runDone:  make(chan error, 1),
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/", srv.serveAPI)
	srv.server = &http.Server{
		Handler:           mux,
		Addr:              addr,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	runCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	srv.stopRun = stop
	go func() {
		srv.runDone <- controller.Run(runCtx)
	}()
	o.Logger.Info("server initialized",
		slog.String("region", cfg.Region),
		slog.String("backend", cfg.Backend),
		slog.String("storage", cfg.Storage.Backend))
	return srv, nil
}

func newStorage(cfg *config.Config) (storage.Storage, error) {
	if cfg.Storage.Backend == config.StorageBolt {
		return storage.NewBoltStorage(cfg.Storage.Path)
	}
	return storage.NewMemoryStorage(), nil
}

func newExecutor(ctx context.Context, cfg *config.Config, logger *slog.Logger) (executor.Executor, error) {
	switch cfg.Backend {
	case config.BackendDocker:
		mode, err := docker.ParseExitResourceMode(cfg.Docker.ExitResourceMode)
		if err != nil {
			return nil, err
		}
		exe, err := docker.NewExecutor(ctx,
			docker.WithNetwork(cfg.Docker.Network),
			docker.WithLogger(logger),
			docker.WithExitResourceMode(mode))
		if err != nil {
			return nil, err
		}
		return exe, nil
	default:
		p, err := cfg.LoadProfile()
		if err != nil {
			return nil, fmt.Errorf("loading transition profile: %w", err)
		}
		return sim.New(sim.WithProfile(p)), nil
	}
}

func (s *Server) serveAPI(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.New().String()
	ctx := api.ContextWithRequestID(r.Context(), requestID)
	ctx = api.ContextWithLogger(ctx, s.opts.Logger)
	r = r.WithContext(ctx)

	action := "Unknown"
	req, err := s.format.DecodeRequest(r)
	var resp api.Response
	if err == nil {
		action = req.Action().String()
		ctx = api.ContextWithAction(ctx, action)
		resp, err = s.dispatch.Exec(ctx, req)
	}

	code := api.ErrorCode(err)
	if err != nil && code == "" {
		code = "InternalError"
	}
	s.metrics.APIRequest(ctx, action, code, time.Since(start))

	if err != nil {
		if code == "InternalError" || api.IsInfrastructure(err) {
			api.Logger(ctx).Error("request failed", slog.Any("error", err))
		}
		if err := s.format.EncodeError(ctx, w, err); err != nil {
			api.Logger(ctx).Error("serving error to client", slog.Any("error", err))
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}
	if err := s.format.EncodeResponse(ctx, w, resp); err != nil {
		api.Logger(ctx).Error("serving response to client", slog.Any("error", err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// Handler returns the HTTP handler serving the API and /metrics
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests, stops applying backend events and
// releases the backend, the storage and the metrics exporter
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() {
		errs := []error{s.server.Shutdown(ctx)}
		s.stopRun()
		select {
		case err := <-s.runDone:
			errs = append(errs, err)
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
		errs = append(errs, s.exe.Close(), s.store.Close(), s.metrics.Shutdown(ctx))
		s.closeError = errors.Join(errs...)
	})
	return s.closeError
}
