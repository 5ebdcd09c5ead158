package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/Mindburn-Labs/uapk-gateway/pkg/api"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/approval"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/audit"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/budget"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/config"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/connector"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/gateway"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/issuer"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/manifest"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/observability"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/signing"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable rather than a direct call so tests can swap it
// out for a no-op.
var startServer = runServer

// Run is the command dispatcher. Default action (no subcommand, or any
// flag-looking first argument) is to serve.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		startServer()
		return 0
	}

	switch args[1] {
	case "server", "serve":
		startServer()
		return 0
	case "health":
		return runHealthCmd(stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "validate-manifest":
		return runValidateManifestCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if len(args[1]) > 0 && args[1][0] == '-' {
			startServer()
			return 0
		}
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

const (
	colorReset = "\033[0m"
	colorBold  = "\033[1m"
	colorGreen = "\033[32m"
	colorCyan  = "\033[36m"
	colorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%suapk-gateway%s\n", colorBold, colorReset)
	fmt.Fprintf(w, "%sA policy-enforcing gateway for autonomous software agents.%s\n", colorGray, colorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", colorBold, colorReset)
	fmt.Fprintln(w, "  gateway <command> [flags]")
	fmt.Fprintln(w, "")
	printSection(w, "COMMANDS")
	printCommand(w, "serve", "Run the HTTP server (default)")
	printCommand(w, "health", "Check server health (HTTP)")
	printCommand(w, "verify", "Verify an audit chain (--tenant, --manifest)")
	printCommand(w, "export", "Export an audit evidence pack (--tenant, --manifest, --out)")
	printCommand(w, "validate-manifest", "Normalize a YAML manifest file and print its JSON body (--file)")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", colorBold+colorCyan, title, colorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-10s%s %s\n", colorGreen, name, colorReset, desc)
}

func runHealthCmd(out, errOut io.Writer) int {
	resp, err := http.Get("http://localhost:8081/healthz")
	if err != nil {
		fmt.Fprintf(errOut, "health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(out, "OK")
	return 0
}

func runServer() {
	fmt.Fprintf(os.Stdout, "%suapk-gateway starting...%s\n", colorBold, colorReset)
	ctx := context.Background()
	logger := slog.Default()
	cfg := config.Load()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("database ping failed: %v", err)
	}
	log.Println("[gateway] postgres: connected")

	signer, err := signing.LoadGatewaySigner()
	if err != nil {
		log.Fatalf("load signing key: %v", err)
	}
	log.Printf("[gateway] trust root: %s", signing.EncodePublicKey(signer.PublicKey()))

	manifests := manifest.NewCachingStore(manifest.NewPostgresStore(db), time.Minute)
	approvals := approval.NewPostgresStore(db)
	budgets := budget.NewPostgresStore(db)
	auditStore := audit.NewPostgresStore(db)
	issuers := issuer.NewPostgresStore(db)

	var rateLimiter *connector.DomainRateLimiter
	if cfg.ConnectorRateLimitPerSec > 0 {
		rateLimiter = connector.NewDomainRateLimiter(cfg.ConnectorRateLimitPerSec, 10)
		go func() {
			ticker := time.NewTicker(10 * time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				rateLimiter.Prune(30 * time.Minute)
			}
		}()
	}

	zeroTrust := connector.NewZeroTrustGate()
	if cfg.RedisAddr != "" {
		zeroTrust = zeroTrust.WithCounter(connector.NewRedisCallCounter(cfg.RedisAddr))
		log.Printf("[gateway] zero-trust: shared call counter via redis at %s", cfg.RedisAddr)
	}

	var riskEnforcer *budget.RiskEnforcer
	if cfg.RiskBudgetEnabled {
		riskEnforcer = budget.NewRiskEnforcer()
		riskEnforcer.SetDefaultBudget(&budget.RiskBudget{
			RiskScoreCap:     cfg.RiskBudgetScoreCap,
			BlastRadiusCap:   cfg.RiskBudgetBlastRadiusCap,
			ComputeCapMillis: cfg.RiskBudgetComputeCapMillis,
			AutonomyLevel:    100,
		})
		log.Printf("[gateway] risk budget: enabled (score_cap=%.1f blast_radius_cap=%d compute_cap_ms=%d)",
			cfg.RiskBudgetScoreCap, cfg.RiskBudgetBlastRadiusCap, cfg.RiskBudgetComputeCapMillis)
	}

	orchestrator := &gateway.Orchestrator{
		Manifests:              manifests,
		Approvals:              approvals,
		Budgets:                budgets,
		Audit:                  auditStore,
		Signer:                 signer,
		Issuers:                issuers,
		GlobalWebhookAllowlist: cfg.AllowedWebhookDomains,
		ConnectorRateLimiter:   rateLimiter,
		ZeroTrust:              zeroTrust,
		RiskEnforcer:           riskEnforcer,
		ApprovalTTL:            time.Duration(cfg.ApprovalExpiryHours) * time.Hour,
	}

	obsProvider, obsErr := observability.New(ctx, observability.DefaultConfig())
	if obsErr != nil {
		logger.Warn("observability disabled", "error", obsErr)
		obsProvider = nil
	} else {
		defer func() { _ = obsProvider.Shutdown(ctx) }()
	}

	gatewayAPI := api.NewGatewayAPI(orchestrator)
	if cfg.TenantRateLimitPerSecond > 0 {
		gatewayAPI.TenantRateLimiter = api.NewGlobalRateLimiter(cfg.TenantRateLimitPerSecond, cfg.TenantRateLimitBurst)
		log.Printf("[gateway] tenant rate limit: enabled (%d req/s, burst %d)",
			cfg.TenantRateLimitPerSecond, cfg.TenantRateLimitBurst)
	}
	limiter := api.NewGlobalRateLimiter(50, 100)
	idempotency := api.DefaultIdempotencyStore()
	handler := api.NewRouter(gatewayAPI, limiter, idempotency, obsProvider)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	go func() {
		log.Printf("[gateway] ready: http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	go func() {
		log.Println("[gateway] health server: :8081")
		if err := http.ListenAndServe(":8081", healthMux); err != nil {
			log.Printf("[gateway] health server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("[gateway] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
