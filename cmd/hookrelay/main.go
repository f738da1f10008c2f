// ABOUTME: Entry point for hookrelay, the webhook to WebSocket consumer relay
// ABOUTME: Subcommands: serve, health, consumers, version

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/hookrelay/internal/config"
	"github.com/2389/hookrelay/internal/gateway"
)

// version is set at build time.
var version = "dev"

const banner = `
  _                 _                 _
 | |__   ___   ___ | | ___ __ ___| | __ _ _   _
 | '_ \ / _ \ / _ \| |/ / '__/ _ \ |/ _' | | | |
 | | | | (_) | (_) |   <| | |  __/ | (_| | |_| |
 |_| |_|\___/ \___/|_|\_\_|  \___|_|\__,_|\__, |
                                          |___/
`

// getConfigPath returns the config file path and whether it was asked for
// explicitly. Priority: -config flag > HOOKRELAY_CONFIG >
// XDG_CONFIG_HOME/hookrelay/relay.yaml > ~/.config/hookrelay/relay.yaml
func getConfigPath(flagValue string) (string, bool) {
	if flagValue != "" {
		return flagValue, true
	}
	if envPath := os.Getenv("HOOKRELAY_CONFIG"); envPath != "" {
		return envPath, true
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "relay.yaml", false
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "hookrelay", "relay.yaml"), false
}

// loadConfig loads the config for a subcommand. A missing default config
// file is fine: the relay is then configured from the environment alone.
func loadConfig(args []string, name string) (*config.Config, string, error) {
	fset := flag.NewFlagSet(name, flag.ContinueOnError)
	configFlag := fset.String("config", "", "path to config file (YAML or TOML)")
	if err := fset.Parse(args); err != nil {
		return nil, "", err
	}

	path, explicit := getConfigPath(*configFlag)
	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: hookrelay <command> [-config path]")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve       Start the relay")
		fmt.Println("  health      Check relay health on the private listener")
		fmt.Println("  consumers   List connected consumers")
		fmt.Println("  version     Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx, os.Args[2:])
	case "consumers":
		err = runConsumers(ctx, os.Args[2:])
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

func runServe(ctx context.Context, args []string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig(args, "serve")
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	source := configPath
	if source == "" {
		source = "(environment only)"
	}
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", source)
	green.Print("    ▶ ")
	fmt.Printf("Public:    %s (consumers on %s)\n", cfg.Server.HTTPAddr, cfg.Relay.WSPath)
	green.Print("    ▶ ")
	fmt.Printf("Private:   %s (health, %s)\n", cfg.Server.PrivateAddr, cfg.Metrics.Path)
	green.Print("    ▶ ")
	fmt.Print("Ledger:    ")
	if cfg.Ledger.Path != "" {
		cyan.Println(cfg.Ledger.Path)
	} else {
		yellow.Println("disabled")
	}
	fmt.Println()

	logger.Info("starting hookrelay",
		"config", source,
		"http_addr", cfg.Server.HTTPAddr,
		"private_addr", cfg.Server.PrivateAddr,
		"provisioning_timeout", cfg.Relay.ProvisioningTimeout,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// privateGet fetches path from the private listener.
func privateGet(ctx context.Context, cfg *config.Config, path string) (int, []byte, error) {
	url := fmt.Sprintf("http://%s%s", dialAddr(cfg.Server.PrivateAddr), path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// dialAddr turns a listen address like ":9100" into one we can dial.
func dialAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}

func runHealth(ctx context.Context, args []string) error {
	cfg, _, err := loadConfig(args, "health")
	if err != nil {
		return err
	}

	status, body, err := privateGet(ctx, cfg, "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", status)
	}

	fmt.Println(string(body))
	return nil
}

func runConsumers(ctx context.Context, args []string) error {
	cfg, _, err := loadConfig(args, "consumers")
	if err != nil {
		return err
	}

	status, body, err := privateGet(ctx, cfg, "/consumers")
	if err != nil {
		return fmt.Errorf("consumers check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("listing consumers: status %d", status)
	}

	fmt.Println(string(body))
	return nil
}
