package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"trustnet/internal/auditchain"
	jwttoken "trustnet/internal/jwt_token"
	"trustnet/internal/network/consensus"
	"trustnet/internal/network/discovery"
	"trustnet/internal/network/handler"
	netmetrics "trustnet/internal/network/metrics"
	"trustnet/internal/network/registry"
	"trustnet/internal/platform/config"
	"trustnet/internal/platform/httpserver"
	"trustnet/internal/platform/logger"
	httpmetrics "trustnet/internal/platform/metrics"
	"trustnet/internal/platform/middleware"
	"trustnet/pkg/platform/middleware/metadata"
	"trustnet/pkg/platform/middleware/requesttime"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	log := logger.New()
	cfg, err := config.FromEnv()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open backends", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	chain := auditchain.New(b.audit, b.chainOptions(log)...)
	verifierOpts := []auditchain.VerifierOption{
		auditchain.WithVerifierLogger(log),
		auditchain.WithVerifierMetrics(auditchain.NewVerifierMetrics(reg)),
	}
	if b.publisher != nil {
		verifierOpts = append(verifierOpts, auditchain.WithEscalation(b.publisher))
	}
	verifier := auditchain.NewVerifier(chain, cfg.Audit.VerifyInterval, verifierOpts...)

	charter, err := loadConstitution(cfg.ConstitutionPath)
	if err != nil {
		log.Error("failed to load constitution", "error", err)
		os.Exit(1)
	}
	directory, err := loadDirectory(cfg.DirectoryPath)
	if err != nil {
		log.Error("failed to load identity directory", "error", err)
		os.Exit(1)
	}

	networkMetrics := netmetrics.NewWith(reg)
	nodes := registry.New(b.nodes, b.peers,
		registry.WithLogger(log),
		registry.WithAuditRecorder(chain),
		registry.WithMetrics(networkMetrics),
	)

	var collectorOpts []consensus.SimulatedOption
	if cfg.Consensus.Seed != 0 {
		collectorOpts = append(collectorOpts, consensus.WithSeed(cfg.Consensus.Seed))
	}
	engine, err := consensus.New(nodes, b.rounds, consensus.NewSimulatedCollector(collectorOpts...),
		consensus.WithLogger(log),
		consensus.WithParams(consensusParams(cfg.Consensus)),
		consensus.WithAuditRecorder(chain),
		consensus.WithMetrics(networkMetrics),
	)
	if err != nil {
		log.Error("failed to build consensus engine", "error", err)
		os.Exit(1)
	}

	jwtValidator := jwttoken.NewJWTServiceAdapter(
		jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience),
	)
	gateway := handler.New(handler.Services{
		Registry:     nodes,
		Discovery:    discovery.New(nodes, discovery.WithLogger(log), discovery.WithAuditRecorder(chain)),
		Consensus:    engine,
		Constitution: charter,
		Audit:        chain,
		Directory:    directory,
		Approvals:    jwttoken.NewApprovalService(cfg.Auth.ApprovalSigningKey, cfg.Auth.JWTIssuer),
		Auth:         jwtValidator,
	},
		handler.WithLogger(log),
		handler.WithStrictApprovals(cfg.StrictApprovals),
		handler.WithRequireNodeKey(cfg.RequireNodeKey),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Logger(log))
	r.Use(httpmetrics.New(reg).Middleware)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Route(cfg.BasePath, gateway.Register)

	srv := httpserver.New(cfg.Addr, r, cfg.Consensus.RoundTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting trustnet network control plane",
			"addr", cfg.Addr,
			"base_path", cfg.BasePath,
			"constitution_version", charter.Version(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := verifier.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
