// Command chronicled runs Chronicle's provenance transaction processor,
// policy transaction processor, submitter, and relational projector as one
// process. Grounded on the teacher's service entrypoints
// (cmd/indexer/main.go, cmd/gateway/main.go): load config, construct the
// service, start it, block on signal, stop it.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chronicle-ledger/chronicle/internal/config"
	"github.com/chronicle-ledger/chronicle/internal/eventstream"
	"github.com/chronicle-ledger/chronicle/internal/ledgertest"
	"github.com/chronicle-ledger/chronicle/internal/logging"
	"github.com/chronicle-ledger/chronicle/internal/metrics"
	"github.com/chronicle-ledger/chronicle/internal/policy"
	"github.com/chronicle-ledger/chronicle/internal/policytp"
	"github.com/chronicle-ledger/chronicle/internal/projector"
	"github.com/chronicle-ledger/chronicle/internal/projector/migrations"
	"github.com/chronicle-ledger/chronicle/internal/signer"
	"github.com/chronicle-ledger/chronicle/internal/submitter"
	"github.com/chronicle-ledger/chronicle/internal/tp"
)

func main() {
	log := logging.NewFromEnv("chronicled")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	m := metrics.New("chronicled")

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("open postgres connection")
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.DBMaxConnections)
	db.SetConnMaxIdleTime(cfg.DBIdleTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := migrations.Apply(ctx, db); err != nil {
		log.WithError(err).Fatal("apply projector migrations")
	}

	engine := policy.NewWithMetrics(m)
	ledger := ledgertest.New()
	provProcessor := tp.NewWithMetrics(engine, m)
	policyProcessor := policytp.New(engine)
	maybeBootstrapPolicy(ctx, ledger, policyProcessor, log)

	dispatcher := newLedgerDispatcher(ledger, provProcessor)

	submitterStream := eventstream.New(ledger, 0, 200*time.Millisecond, logging.NewFromEnv("submitter"))
	projectorStream := eventstream.New(ledger, 0, 200*time.Millisecond, logging.NewFromEnv("projector"))

	sgnr, err := newConfiguredSigner(cfg.SignerBackend)
	if err != nil {
		log.WithError(err).Fatal("construct signer")
	}
	sub := submitter.NewWithMetrics(sgnr, dispatcher, submitterStream, logging.NewFromEnv("submitter"), m)
	defer sub.Close()

	proj := projector.New(db, projectorStream, logging.NewFromEnv("projector"))

	submitterStream.Start(ctx)
	projectorStream.Start(ctx)

	if cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addrForPort(cfg.MetricsPort), Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
		defer srv.Close()
	}

	go sampleProjectorLag(ctx, ledger, proj, m)

	log.WithFields(map[string]interface{}{"env": string(cfg.Env)}).Info("chronicled started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	submitterStream.Stop()
	projectorStream.Stop()
	cancel()
}

// sampleProjectorLag periodically reports the gap between the ledger's head
// offset and the projector's stored offset, for the chronicle_projector_lag_offsets gauge.
func sampleProjectorLag(ctx context.Context, ledger *ledgertest.Ledger, proj *projector.Projector, m *metrics.Metrics) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stored, err := proj.StoredOffset(ctx)
			if err != nil {
				continue
			}
			head := ledger.Offset()
			if head >= stored {
				m.SetProjectorLag(head - stored)
			}
		}
	}
}

func newConfiguredSigner(backend string) (signer.Signer, error) {
	return signer.New(backend)
}

func addrForPort(port int) string {
	return fmt.Sprintf(":%d", port)
}
