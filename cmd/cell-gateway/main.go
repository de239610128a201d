// ABOUTME: Entry point for a cell gateway
// ABOUTME: Serves one cell's per-user items to holders of tokens issued for that cell

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
	"github.com/2389/cellular/internal/gateway"
	"github.com/2389/cellular/internal/logging"
	"github.com/2389/cellular/internal/metrics"
	"github.com/2389/cellular/internal/server"
	"github.com/2389/cellular/internal/store"
)

// version is set at build time.
var version = "dev"

const banner = `
            _ _                    _
  ___ ___| | |      __ _  __ _| |_ _____      ____ _ _   _
 / __/ _ \ | |____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| (_|  __/ | |____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 \___\___|_|_|     \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                   |___/                             |___/
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: cell-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the gateway")
		fmt.Println("  health    Check gateway health")
		fmt.Println("  version   Print the version")
		fmt.Println()
		fmt.Println("Config is read from $CELLULAR_CONFIG or $XDG_CONFIG_HOME/cellular/gateway.yaml")
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
	configPath := config.DefaultPath("gateway")
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
	if err := cfg.ValidateGateway(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Cell:     ")
	cyan.Print(cfg.Cell.ID)
	gray.Printf(" (%s)\n", cfg.Cell.Stage)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Driver)
	fmt.Println()

	clients := awsconf.New(cfg.AWS)

	st, err := store.Open(ctx, cfg.Database, clients.DynamoDB)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	verifier, err := auth.LoadVerifier(ctx, cfg.Auth, clients.SecretsManager)
	if err != nil {
		st.Close()
		return err
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(promRegistry, "gateway")

	svc := gateway.NewService(cfg.Cell.ID, verifier, st, collector, logger)

	opts := gateway.HandlerOptions{
		RequestTimeout: cfg.Server.RequestTimeout,
		Collector:      collector,
		Logger:         logger,
	}
	if cfg.Metrics.Enabled {
		opts.Gatherer = promRegistry
		opts.MetricsPath = cfg.Metrics.Path
	}

	logger.Info("starting cell-gateway",
		"config", configPath,
		"cell_id", cfg.Cell.ID,
		"http_addr", cfg.Server.HTTPAddr,
		"database", cfg.Database.Driver,
	)

	srv := server.New(cfg.Server, gateway.NewHandler(svc, opts), logger,
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
