// Package cli implements clustergate's subcommand dispatch, the same
// flag-based Execute(args) shape as an earlier node-migration tool's
// internal/cli/cli.go, trimmed to the subcommands a cluster-routing
// gateway needs (no migrate/replicate/rollback/dashboard/compare-keys —
// those were migration-tool features with no routing equivalent).
package cli

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"clustergate/internal/config"
	"clustergate/internal/gateway"
	"clustergate/internal/logger"
	"clustergate/internal/resp"
	"clustergate/internal/statusserver"
)

// Execute dispatches CLI subcommands.
func Execute(args []string) int {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("[clustergate] ")

	if len(args) == 0 {
		printUsage()
		return 1
	}

	switch args[0] {
	case "serve":
		return runServe(args[1:])
	case "dispatch":
		return runDispatch(args[1:])
	case "topology":
		return runTopology(args[1:])
	case "help", "-h", "--help":
		printUsage()
		return 0
	case "version", "--version", "-v":
		fmt.Println("clustergate 0.1.0-dev")
		return 0
	default:
		log.Printf("Unknown subcommand: %s", args[0])
		printUsage()
		return 1
	}
}

func loadConfigFromArgs(cmd string, args []string) (*config.Config, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	var configPath string
	fs.StringVar(&configPath, "config", "", "Configuration file path (YAML)")
	fs.StringVar(&configPath, "c", "", "Configuration file path (YAML)")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, flag.ErrHelp
		}
		return nil, fmt.Errorf("failed to parse arguments: %w", err)
	}
	if configPath == "" {
		fs.Usage()
		return nil, fmt.Errorf("the --config flag is required")
	}
	return config.Load(configPath)
}

func initLogger(cfg *config.Config, mode string) error {
	level := parseLogLevel(cfg.Log.Level)
	logDir := cfg.ResolvePath(cfg.Log.Dir)
	prefix := fmt.Sprintf("clustergate_%s", mode)
	if err := logger.Init(logDir, level, prefix, cfg.Log.ConsoleEnabledValue()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log.SetOutput(logger.Writer())
	return nil
}

func parseLogLevel(levelStr string) logger.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return logger.DEBUG
	case "warn", "warning":
		return logger.WARN
	case "error":
		return logger.ERROR
	default:
		return logger.INFO
	}
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	var configPath string
	var statusAddr string
	fs.StringVar(&configPath, "config", "", "Configuration file path (YAML)")
	fs.StringVar(&configPath, "c", "", "Configuration file path (YAML)")
	fs.StringVar(&statusAddr, "status-addr", "", "Start a JSON status endpoint on the given address (e.g. :8080)")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		log.Printf("Failed to parse arguments: %v", err)
		return 1
	}
	if configPath == "" {
		log.Println("The --config flag is required")
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 2
	}

	if err := initLogger(cfg, "serve"); err != nil {
		log.Printf("Failed to initialize logging: %v", err)
		return 1
	}
	defer logger.Close()

	logger.Console("🚀 clustergate serving")
	logger.Console("%s", cfg.PrettySummary())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := gateway.Start(ctx, cfg)
	if err != nil {
		logger.Error("Failed to start gateway: %v", err)
		return 1
	}
	defer gw.Close()

	if statusAddr != "" {
		srv := statusserver.New(statusAddr, gw)
		go func() {
			logger.Console("📊 status endpoint listening on %s", statusAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("status endpoint stopped: %v", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Console("📡 shutdown signal received, stopping")
	return 0
}

func runDispatch(args []string) int {
	fs := flag.NewFlagSet("dispatch", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	var configPath string
	fs.StringVar(&configPath, "config", "", "Configuration file path (YAML)")
	fs.StringVar(&configPath, "c", "", "Configuration file path (YAML)")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		log.Printf("Failed to parse arguments: %v", err)
		return 1
	}
	tokens := fs.Args()
	if configPath == "" || len(tokens) == 0 {
		log.Println("usage: clustergate dispatch --config <path> <CMD> [args...]")
		return 2
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 2
	}

	ctx := context.Background()
	gw, err := gateway.Start(ctx, cfg)
	if err != nil {
		log.Printf("Failed to start gateway: %v", err)
		return 1
	}
	defer gw.Close()

	reply, err := gw.Dispatch(ctx, resp.NewCommand(tokens...))
	if err != nil {
		log.Printf("Dispatch failed: %v", err)
		return 1
	}
	fmt.Println(reply.String())
	return 0
}

func runTopology(args []string) int {
	cfg, err := loadConfigFromArgs("topology", args)
	if err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		log.Printf("%v", err)
		return 1
	}

	ctx := context.Background()
	gw, err := gateway.Start(ctx, cfg)
	if err != nil {
		log.Printf("Failed to start gateway: %v", err)
		return 1
	}
	defer gw.Close()

	for _, s := range gw.Topology().Slots().Slots() {
		fmt.Printf("%5d-%5d -> %s\n", s.Start, s.End, s.Primary)
	}
	return 0
}

func printUsage() {
	binary := filepath.Base(os.Args[0])
	fmt.Printf(`clustergate - client-side cluster-aware key-value gateway

Usage:
  %[1]s <command> [options]

Available commands:
  serve      Run the gateway, bootstrapping from the configured seeds
  dispatch   Send one command through the gateway and print the reply
  topology   Print the currently installed slot map
  help       Show this help
  version    Show version info

Examples:
  %[1]s serve --config clustergate.yaml --status-addr :8080
  %[1]s dispatch --config clustergate.yaml GET mykey
`, binary)
}
