// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Command pbs-server is the batch server daemon: it loads configuration,
// opens the object store, wires the job state machine and request
// dispatcher, and mounts the admin HTTP surface (section 6.1) on the
// resolved admin port.
//
// The DIS batch listener on the resolved batch port (section 6) is not
// wired here yet -- internal/conn has the connection table and handshake
// but no net.Listener accept loop; see DESIGN.md's "still open" note.
// What's already load-bearing -- store, job lifecycle, dispatch, the
// admin surface -- runs end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pbsgo/batchcore/internal/conn"
	"github.com/pbsgo/batchcore/internal/dispatch"
	"github.com/pbsgo/batchcore/internal/exec"
	"github.com/pbsgo/batchcore/internal/job"
	"github.com/pbsgo/batchcore/internal/resv"
	"github.com/pbsgo/batchcore/internal/sched"
	"github.com/pbsgo/batchcore/internal/store"
	"github.com/pbsgo/batchcore/pkg/auth"
	"github.com/pbsgo/batchcore/pkg/config"
	"github.com/pbsgo/batchcore/pkg/logging"
	"github.com/pbsgo/batchcore/pkg/metrics"
	"github.com/pbsgo/batchcore/pkg/pool"
	"github.com/pbsgo/batchcore/pkg/streaming"
)

func main() {
	confFile := flag.String("conf", os.Getenv("PBS_CONF_FILE"), "path to the pbs.conf-equivalent configuration file")
	driver := flag.String("store-driver", "sqlite3", "object store driver (sqlite3 or postgres)")
	dsn := flag.String("store-dsn", "file:pbs_server.db?cache=shared&_fk=1", "object store data source name")
	flag.Parse()

	logger := logging.NewLogger(&logging.Config{
		Level:   -4, // slog.LevelDebug avoided here to keep stdlib import list minimal in main
		Format:  logging.FormatJSON,
		Output:  os.Stdout,
		Service: "pbs-server",
		Version: "dev",
	})

	cfg := loadConfig(*confFile, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, *driver, *dsn, logger)
	if err != nil {
		logger.Error("store open failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	if err := st.Migrate(*driver); err != nil {
		logger.Error("store migrate failed", "error", err)
		os.Exit(1)
	}

	machine := job.NewMachine()
	svc := job.NewService(machine, st)
	resvEngine := resv.NewEngine(st, machine)
	schedMgr := sched.NewManager(machine)

	connPool := pool.NewConnPool(nil, logger)
	sweeper := pool.NewSweeper(connPool, nil, 900*time.Second, logger)
	launcher := exec.NewLauncher(connPool, sweeper, machine, logger)

	reg := prometheus.NewRegistry()
	collector := metrics.NewPrometheusCollector(reg)

	registry := dispatch.NewRegistry()
	deps := dispatch.HandlerDeps{Logger: logger, Metrics: collector}

	registerRoutes(registry, svc, st, resvEngine, schedMgr, launcher, cfg, deps, logger)

	connTable := conn.NewTable()
	defer sweepAndClose(connTable)

	streamServer := streaming.NewServer(machine, logger, nil)

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", healthzHandler(st)).Methods(http.MethodGet)
	router.HandleFunc("/stream", streamServer.HandleWebSocket)

	adminPort := config.ResolveServicePort("pbs_admin", cfg.Get().ManagerServicePort)
	adminAddr := fmt.Sprintf(":%d", adminPort)
	admin := &http.Server{
		Addr:         adminAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the /stream websocket upgrade is long-lived
	}

	go func() {
		logger.Info("admin http surface listening", "addr", adminAddr)
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin http surface failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := admin.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin http surface shutdown error", "error", err)
	}
}

// loadConfig implements section 6.3's supplemented pbs_loadconf.c
// behavior: the PBS_CONF_FILE env var is checked before the path flag is
// even stat'd, and a missing file falls back to compiled-in defaults
// silently rather than failing startup.
func loadConfig(confFile string, logger logging.Logger) *config.Store {
	cfg := config.NewDefault()
	if confFile != "" {
		if loaded, err := config.LoadFile(confFile); err == nil {
			cfg = loaded
		} else {
			logger.Warn("conf file not loaded, using compiled-in defaults", "path", confFile, "error", err)
		}
	}
	cfg.ApplyEnv()
	return config.NewStore(cfg)
}

func healthzHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := st.DB().PingContext(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"down","error":%q}`, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok","service":"pbs-server"}`)
	}
}

// registerRoutes wires every currently-implemented request family (section
// 4.5) -- job lifecycle, status, reservations, the scheduler protocol, and
// the exec fan-out's JobObit -- then fills every remaining request type
// with a placeholder stub so Dispatch never falls through to
// "unregistered type" for any of the 61 names (section 4.5's request
// enum). Handlers are registered before RegisterStubHandlers so the stub
// pass only ever fills genuine gaps, never overwrites a real one.
func registerRoutes(registry *dispatch.Registry, svc *job.Service, st *store.Store, resvEngine *resv.Engine, schedMgr *sched.Manager, launcher *exec.Launcher, cfgStore *config.Store, deps dispatch.HandlerDeps, logger logging.Logger) {
	cfg := cfgStore.Get()
	methods := []auth.Method{auth.NewResvportMethod()}
	for _, name := range cfg.SupportedAuthMethods {
		if name == "resvport" {
			continue
		}
		logger.Warn("auth method named in config has no wired external exchanger yet", "method", name)
	}
	handshake := conn.NewHandshake(auth.NewRegistry(methods...))

	dispatch.RegisterConnectHandlers(registry, handshake, deps)
	dispatch.RegisterJobHandlers(registry, svc, launcherAdapter{launcher}, deps)
	dispatch.RegisterStatusHandlers(registry, st, deps)
	dispatch.RegisterResvHandlers(registry, resvEngine, deps)
	dispatch.RegisterExecHandlers(registry, launcher, deps)
	sched.RegisterSchedHandlers(registry, schedMgr, deps)
	dispatch.RegisterStubHandlers(registry, deps)
}

// launcherAdapter satisfies dispatch.Launcher over *exec.Launcher,
// converting between dispatch's transport-agnostic ExecHost/ExecResult
// and internal/exec's concrete MoM/PeerResult so internal/dispatch never
// has to import internal/exec directly.
type launcherAdapter struct {
	l *exec.Launcher
}

func (a launcherAdapter) Launch(ctx context.Context, jobID string, primary dispatch.ExecHost, sisters []dispatch.ExecHost, execVnode string) ([]dispatch.ExecResult, error) {
	execSisters := make([]exec.MoM, len(sisters))
	for i, s := range sisters {
		execSisters[i] = exec.MoM{Addr: s.Addr, Port: s.Port}
	}
	results, err := a.l.Launch(ctx, jobID, exec.MoM{Addr: primary.Addr, Port: primary.Port}, execSisters, execVnode)
	out := make([]dispatch.ExecResult, len(results))
	for i, r := range results {
		out[i] = dispatch.ExecResult{Peer: dispatch.ExecHost{Addr: r.Peer.Addr, Port: r.Peer.Port}, Err: r.Err}
	}
	return out, err
}

func sweepAndClose(t *conn.Table) {
	t.SweepIdle(conn.DefaultIdleTimeout)
}
