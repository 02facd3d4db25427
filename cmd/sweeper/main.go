// sweeper expires ownership transfer requests past their deadline on a fixed interval. It also serves the gRPC
// health service on GRPC_ADDR and Prometheus metrics on METRICS_ADDR. Several sweepers may run at once; each
// request is expired exactly once.
package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"org-access-core/internal/app"
	"org-access-core/internal/config"
	"org-access-core/internal/metrics"
	"org-access-core/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("sweeper: %v", err)
	}
	metrics.MustRegisterDefault()

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	gs := server.NewGRPCServer()
	health := server.RegisterServices(gs, server.Deps{DB: core.DB, Policy: core.Scorer})
	go func() {
		log.Printf("sweeper: health gRPC listening on %s", cfg.GRPCAddr)
		if err := gs.Serve(lis); err != nil {
			log.Printf("sweeper: grpc serve: %v", err)
		}
	}()
	go health.Watch(ctx, 10*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	ms := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Printf("sweeper: metrics listening on %s", cfg.MetricsAddr)
		if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("sweeper: metrics serve: %v", err)
		}
	}()

	log.Printf("sweeper: sweeping every %s, batch %d", cfg.SweepInterval, cfg.SweepBatchSize)
	run(ctx, core, cfg.SweepInterval, cfg.SweepBatchSize)

	log.Println("sweeper: shutting down...")
	health.Shutdown()
	gs.GracefulStop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = ms.Shutdown(shutdownCtx)
	_ = core.Close(shutdownCtx)
	log.Println("sweeper: stopped")
}

// run sweeps until ctx is done. A full batch is followed immediately by another one.
func run(ctx context.Context, core *app.App, interval time.Duration, batch int) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		for {
			n, err := core.Transfers.SweepExpired(ctx, batch)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("sweeper: sweep failed: %v", err)
				}
				break
			}
			if n > 0 {
				log.Printf("sweeper: expired %d transfer request(s)", n)
			}
			if n < batch {
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
