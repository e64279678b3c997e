// ABOUTME: Interactive config generator for intake-gateway
// ABOUTME: Prompts for the common settings and writes a YAML file that config.Load accepts

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/2389/intake-gateway/internal/config"
)

// getDataPath returns the path to the intake data directory.
// Priority: XDG_DATA_HOME/intake > ~/.local/share/intake
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "intake")
}

func runInit(in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("intake-gateway configuration setup")
	fmt.Println("==================================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		if !isYes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	cfg := config.Default()

	fmt.Println("\n--- Server Configuration ---")
	cfg.Server.HTTPAddr = prompt(reader, "HTTP address", cfg.Server.HTTPAddr)
	cfg.WebSocket.Path = prompt(reader, "WebSocket path", cfg.WebSocket.Path)
	origins := prompt(reader, "Allowed origins (comma separated, * for any)", strings.Join(cfg.CORS.AllowedOrigins, ","))
	cfg.CORS.AllowedOrigins = splitList(origins)

	fmt.Println("\n--- Uploads ---")
	maxImage := prompt(reader, "Max image size in bytes", strconv.FormatInt(cfg.Uploads.MaxImageBytes, 10))
	n, err := strconv.ParseInt(maxImage, 10, 64)
	if err != nil || n <= 0 {
		return fmt.Errorf("invalid image size %q", maxImage)
	}
	cfg.Uploads.MaxImageBytes = n

	fmt.Println("\n--- Ledger ---")
	if isYes(prompt(reader, "Record session events to SQLite?", "no")) {
		cfg.Ledger.Path = prompt(reader, "Ledger database path", filepath.Join(getDataPath(), "ledger.db"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	cfg.Logging.Level = prompt(reader, "Log level (debug/info/warn/error)", cfg.Logging.Level)
	cfg.Logging.Format = prompt(reader, "Log format (text/json)", cfg.Logging.Format)

	data, err := renderConfig(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if cfg.Ledger.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Ledger.Path), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  intake-gateway serve\n")

	return nil
}

// renderConfig validates cfg and encodes it as YAML with a header comment.
func renderConfig(cfg *config.Config) ([]byte, error) {
	cfg.WebSocket.WriteTimeoutRaw = cfg.WebSocket.WriteTimeout.String()
	cfg.WebSocket.PingIntervalRaw = cfg.WebSocket.PingInterval.String()
	cfg.WebSocket.PongTimeoutRaw = cfg.WebSocket.PongTimeout.String()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	body, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}

	var out strings.Builder
	out.WriteString("# intake-gateway configuration\n")
	out.WriteString("# Generated by intake-gateway init\n\n")
	out.Write(body)
	return []byte(out.String()), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
