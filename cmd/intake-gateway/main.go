// ABOUTME: Entry point for intake-gateway onboarding server
// ABOUTME: Tracks client onboarding sessions and streams them to operator consoles

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/2389/intake-gateway/internal/config"
	"github.com/2389/intake-gateway/internal/gateway"
	"github.com/2389/intake-gateway/internal/ledger"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _       _        _                           _
(_)_ __ | |_ __ _| | _____        __ _  __ _| |_ _____      ____ _ _   _
| | '_ \| __/ _' | |/ / _ \_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| | | | | || (_| |   <  __/_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
|_|_| |_|\__\__,_|_|\_\___|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                                 |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: INTAKE_CONFIG env var > XDG_CONFIG_HOME/intake/gateway.yaml > ~/.config/intake/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("INTAKE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "intake", "gateway.yaml")
}

// loadConfig loads path, running on defaults when the file does not exist.
func loadConfig(path string) (*config.Config, bool, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, fmt.Errorf("loading config: %w", err)
	}
	cfg, err = config.Parse([]byte("{}"))
	if err != nil {
		return nil, false, fmt.Errorf("applying defaults: %w", err)
	}
	return cfg, false, nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: intake-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                  Start the gateway server")
		fmt.Println("  init                   Create a new config file interactively")
		fmt.Println("  health                 Check gateway health")
		fmt.Println("  ready                  Show session and connection counts")
		fmt.Println("  events [--session ID]  List journaled session events")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin)
	case "health":
		err = runHealth(ctx)
	case "ready":
		err = runReady(ctx)
	case "events":
		err = runEvents(ctx, os.Args[2:])
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

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, found, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s", configPath)
	if !found {
		yellow.Print(" (not found, using defaults)")
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("WebSocket: %s\n", cfg.WebSocket.Path)
	green.Print("    ▶ ")
	fmt.Printf("Ledger:    ")
	if cfg.Ledger.Path != "" {
		fmt.Println(cfg.Ledger.Path)
	} else {
		gray.Println("disabled")
	}
	fmt.Println()

	logger.Info("starting intake-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"websocket_path", cfg.WebSocket.Path,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// fetchHealth GETs a health path on the configured server.
func fetchHealth(ctx context.Context, path string) (int, string, error) {
	cfg, _, err := loadConfig(getConfigPath())
	if err != nil {
		return 0, "", err
	}

	url := fmt.Sprintf("http://%s%s", dialableAddr(cfg.Server.HTTPAddr), path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, string(body), nil
}

func runHealth(ctx context.Context) error {
	status, _, err := fetchHealth(ctx, "/health")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", status)
	}

	fmt.Println("healthy")
	return nil
}

func runReady(ctx context.Context) error {
	_, body, err := fetchHealth(ctx, "/health/ready")
	if err != nil {
		return err
	}
	fmt.Println(body)
	return nil
}

// runEvents prints the most recent ledger entries, oldest first.
func runEvents(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("events", flag.ContinueOnError)
	sessionID := flags.String("session", "", "only show events for this session")
	limit := flags.Int("limit", 100, "maximum number of events")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}
	if cfg.Ledger.Path == "" {
		return fmt.Errorf("ledger.path is not configured")
	}

	store, err := ledger.Open(cfg.Ledger.Path, newLogger(cfg.Logging, os.Stderr))
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer store.Close()

	filter := ledger.Filter{Limit: *limit}
	if *sessionID != "" {
		filter.SessionID = sessionID
	}
	entries, err := store.List(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing events: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No events recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tSESSION\tACTION\tFOUND\tSTATUS")
	fmt.Fprintln(w, "  ----\t-------\t------\t-----\t------")
	for _, e := range entries {
		found := color.GreenString("yes")
		if !e.Found {
			found = color.YellowString("no")
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			e.RecordedAt.Local().Format("Jan 02 15:04:05"),
			e.SessionID,
			e.Action,
			found,
			e.Status,
		)
	}
	return w.Flush()
}

// dialableAddr turns a wildcard listen address into one a local client can reach.
func dialableAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
