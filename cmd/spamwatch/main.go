// Spamwatch pipeline server — ingests platform webhooks, filters trusted
// actors, enriches and scores the remaining events, and posts spam
// verdicts to the chat webhook.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/spamwatch/spamwatch/pkg/broker"
	"github.com/spamwatch/spamwatch/pkg/classify"
	"github.com/spamwatch/spamwatch/pkg/config"
	"github.com/spamwatch/spamwatch/pkg/gitlab"
	"github.com/spamwatch/spamwatch/pkg/ingress"
	"github.com/spamwatch/spamwatch/pkg/metrics"
	"github.com/spamwatch/spamwatch/pkg/notify"
	"github.com/spamwatch/spamwatch/pkg/pipeline"
	"github.com/spamwatch/spamwatch/pkg/retrieval"
	"github.com/spamwatch/spamwatch/pkg/verify"
)

const stageNames = "all, ingress, verification, retrieval, classification, notification"

// stageOrder lists the runnable stages in pipeline flow order.
var stageOrder = []string{"ingress", "verification", "retrieval", "classification", "notification"}

func main() {
	stageFlag := flag.String("stage", "all",
		"Comma-separated stages to run ("+stageNames+")")
	envFile := flag.String("env-file", ".env", "Path to optional .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Debug("No .env file loaded, continuing with existing environment",
			"path", *envFile, "error", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})))

	stages, err := parseStages(*stageFlag)
	if err != nil {
		slog.Error("Invalid -stage flag", "error", err)
		os.Exit(1)
	}

	for _, name := range stageOrder {
		if !stages[name] {
			continue
		}
		if err := cfg.ValidateStage(name); err != nil {
			slog.Error("Missing required configuration", "stage", name, "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Starting spamwatch", "stages", *stageFlag, "broker_mode", cfg.Broker.Mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Connect to the broker; unreachable broker is fatal at startup.
	b, err := broker.Connect(ctx, cfg.Broker)
	if err != nil {
		slog.Error("Failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := b.Close(); err != nil {
			slog.Error("Error closing broker connection", "error", err)
		}
	}()
	slog.Info("Connected to broker")

	var wg sync.WaitGroup
	var httpServers []*http.Server
	var trust *verify.TrustList

	runStage := func(st *pipeline.Stage) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = st.Run(ctx)
		}()
	}

	serveHTTP := func(name, port string, handler http.Handler) {
		srv := &http.Server{Addr: ":" + port, Handler: handler}
		httpServers = append(httpServers, srv)
		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("HTTP server listening", "name", name, "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("HTTP server error", "name", name, "error", err)
			}
		}()
	}

	// 2. Construct and start the selected stages.
	if stages["ingress"] {
		m := metrics.NewSet("event")
		server := ingress.NewServer(b, m)
		serveHTTP("ingress", cfg.IngressPort, server.Handler())
	}

	if stages["verification"] {
		trust, err = verify.LoadTrustList(cfg.VerifiedDomainsFile, cfg.VerifiedUsersFile)
		if err != nil {
			slog.Error("Failed to load trust lists", "error", err)
			os.Exit(1)
		}

		m := metrics.NewSet("verification")
		platform := gitlab.New(cfg.PlatformURL, cfg.PlatformToken, cfg.HTTPTimeout)
		proc := verify.NewProcessor(trust, platform, m)
		st := pipeline.New("verification", b, broker.StreamEvent, broker.StreamVerification,
			cfg.Broker.BlockTimeout, proc.Process)
		proc.Emit = st.Emit
		wireQueueGauge(st, b, m, broker.StreamEvent)
		runStage(st)

		server := verify.NewServer(trust, m)
		serveHTTP("verification", cfg.VerifyPort, server.Handler())
	}

	if stages["retrieval"] {
		m := metrics.NewSet("retrieval")
		platform := gitlab.New(cfg.PlatformURL, cfg.PlatformToken, cfg.HTTPTimeout)
		verifier := retrieval.NewVerifyHTTPClient(cfg.VerifyServiceURL, cfg.HTTPTimeout)
		proc := retrieval.NewProcessor(platform, verifier, m)
		st := pipeline.New("retrieval", b, broker.StreamVerification, broker.StreamRetrieval,
			cfg.Broker.BlockTimeout, proc.Process)
		proc.Emit = st.Emit
		wireQueueGauge(st, b, m, broker.StreamVerification)
		runStage(st)
	}

	if stages["classification"] {
		m := metrics.NewSet("classification")
		model := classify.NewModelClient(cfg.ModelURL, cfg.HTTPTimeout)
		proc := classify.NewProcessor(model, m)
		st := pipeline.New("classification", b, broker.StreamRetrieval, broker.StreamClassification,
			cfg.Broker.BlockTimeout, proc.Process)
		proc.Emit = st.Emit
		wireQueueGauge(st, b, m, broker.StreamRetrieval)
		runStage(st)
	}

	if stages["notification"] {
		m := metrics.NewSet("notification")
		webhook := notify.NewSlackWebhook(cfg.ChatWebhookURL, cfg.HTTPTimeout)
		proc := notify.NewProcessor(webhook, m)
		st := pipeline.New("notification", b, broker.StreamClassification, "",
			cfg.Broker.BlockTimeout, proc.Process)
		wireQueueGauge(st, b, m, broker.StreamClassification)
		runStage(st)
	}

	slog.Info("Spamwatch started")

	// 3. Wait for shutdown or trust-list reload signals.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for {
		sig := <-sigCh
		if sig == syscall.SIGHUP {
			if trust == nil {
				continue
			}
			if err := trust.Reload(); err != nil {
				slog.Error("Trust list reload failed, keeping previous lists", "error", err)
			} else {
				slog.Info("Trust lists reloaded")
			}
			continue
		}
		slog.Info("Shutdown signal received", "signal", sig)
		break
	}

	// 4. Graceful shutdown: stop reading new messages, let in-flight
	// processing finish, then close HTTP servers and the broker.
	cancel()

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	for _, srv := range httpServers {
		if err := srv.Shutdown(httpCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
	}

	wg.Wait()
	slog.Info("Shutdown complete")
}

// wireQueueGauge updates the stage's input queue-size gauge once per loop
// iteration.
func wireQueueGauge(st *pipeline.Stage, b *broker.Client, m *metrics.Set, stream string) {
	gauge := m.Gauge("queue_size", "Records pending on the input stream", "stream")
	st.SetIterationHook(func(ctx context.Context) {
		if n, err := b.Len(ctx, stream); err == nil {
			gauge.WithLabelValues(stream).Set(float64(n))
		}
	})
}

func parseStages(raw string) (map[string]bool, error) {
	valid := make(map[string]bool, len(stageOrder))
	for _, s := range stageOrder {
		valid[s] = true
	}

	stages := make(map[string]bool)
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name == "all" {
			for s := range valid {
				stages[s] = true
			}
			continue
		}
		if !valid[name] {
			return nil, errors.New("unknown stage " + name + " (valid: " + stageNames + ")")
		}
		stages[name] = true
	}
	return stages, nil
}
