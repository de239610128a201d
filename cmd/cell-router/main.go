// ABOUTME: Entry point for the cell router
// ABOUTME: Registers users, assigns them to cells and issues cell-scoped tokens

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/2389/cellular/internal/auth"
	"github.com/2389/cellular/internal/awsconf"
	"github.com/2389/cellular/internal/config"
	"github.com/2389/cellular/internal/directory"
	"github.com/2389/cellular/internal/logging"
	"github.com/2389/cellular/internal/metrics"
	"github.com/2389/cellular/internal/middleware"
	"github.com/2389/cellular/internal/provision"
	"github.com/2389/cellular/internal/registry"
	"github.com/2389/cellular/internal/router"
	"github.com/2389/cellular/internal/server"
	"github.com/2389/cellular/internal/store"
)

// version is set at build time.
var version = "dev"

const banner = `
            _ _                        _
  ___ ___| | |      _ __ ___  _   _| |_ ___ _ __
 / __/ _ \ | |_____| '__/ _ \| | | | __/ _ \ '__|
| (_|  __/ | |_____| | | (_) | |_| | ||  __/ |
 \___\___|_|_|     |_|  \___/ \__,_|\__\___|_|
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: cell-router <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the router")
		fmt.Println("  health    Check router health")
		fmt.Println("  version   Print the version")
		fmt.Println()
		fmt.Println("Config is read from $CELLULAR_CONFIG or $XDG_CONFIG_HOME/cellular/router.yaml")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	configPath := config.DefaultPath("router")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateRouter(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:       %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:         %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:     %s\n", cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("Provisioning: %s\n", cfg.Provisioning.Backend)
	green.Print("    ▶ ")
	fmt.Printf("Tokens:       %s\n", cfg.Auth.Scheme)
	fmt.Println()

	clients := awsconf.New(cfg.AWS)

	st, err := store.Open(ctx, cfg.Database, clients.DynamoDB)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	prov, err := provision.FromConfig(ctx, cfg.Provisioning, clients.CloudFormation)
	if err != nil {
		st.Close()
		return fmt.Errorf("creating provisioner: %w", err)
	}

	signer, err := auth.LoadSigner(ctx, cfg.Auth, clients.SecretsManager)
	if err != nil {
		st.Close()
		return err
	}
	verifier, err := auth.LoadVerifier(ctx, cfg.Auth, clients.SecretsManager)
	if err != nil {
		st.Close()
		return err
	}

	dir, err := directory.New(st, directory.WithLogger(logger))
	if err != nil {
		st.Close()
		return fmt.Errorf("creating directory: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(promRegistry, "router")

	svc := router.NewService(dir, registry.New(st, prov, cfg.Provisioning.AddressOutput, logger), signer, verifier,
		router.WithMetrics(collector),
		router.WithLogger(logger),
	)

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfigFrom(cfg.RateLimit), logger)

	opts := router.HandlerOptions{
		RequestTimeout: cfg.Server.RequestTimeout,
		RateLimiter:    limiter,
		Collector:      collector,
		Logger:         logger,
	}
	if cfg.Metrics.Enabled {
		opts.Gatherer = promRegistry
		opts.MetricsPath = cfg.Metrics.Path
	}

	logger.Info("starting cell-router",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"database", cfg.Database.Driver,
		"provisioning", cfg.Provisioning.Backend,
	)

	srv := server.New(cfg.Server, router.NewHandler(svc, opts), logger,
		server.Closer{Name: "rate limiter", Close: func() error { limiter.Stop(); return nil }},
		server.Closer{Name: "store", Close: st.Close},
	)
	return srv.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
