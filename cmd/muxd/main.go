// muxd is the multiplexer daemon: it owns PTY-backed panes grouped into
// sessions and serves them over JSON-RPC/WebSocket.
//
//	muxd start [--foreground] [--port N] [--data-dir D] [--log-level L]
//	muxd stop
//	muxd status [--json]
//
// Exit codes: 0 success, 1 runtime failure, 2 usage error.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"orchmux/client"
	"orchmux/internal/config"
	"orchmux/internal/daemon"
	"orchmux/internal/logging"
)

const version = "0.3.0"

var errUsage = errors.New("usage error")

var (
	flagPort       int
	flagDataDir    string
	flagLogLevel   string
	flagForeground bool
	flagStatusJSON bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "muxd",
		Short:         "Multiplexer daemon",
		Long:          "muxd owns PTY sessions and panes and serves them over JSON-RPC/WebSocket.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().IntVarP(&flagPort, "port", "p", 0, "Port to listen on")
	rootCmd.PersistentFlags().StringVarP(&flagDataDir, "data-dir", "d", "", "Data directory for persistence")
	rootCmd.PersistentFlags().StringVarP(&flagLogLevel, "log-level", "l", "", "Log level (trace|debug|info|warn|error)")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		fmt.Fprintln(os.Stderr, err)
		return errUsage
	})

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon",
		Args:  cobra.NoArgs,
		RunE:  runStart,
	}
	startCmd.Flags().BoolVarP(&flagForeground, "foreground", "f", false, "Run in foreground")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		Args:  cobra.NoArgs,
		RunE:  runStop,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Check daemon status",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
	statusCmd.Flags().BoolVar(&flagStatusJSON, "json", false, "Machine-readable output")

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd)

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		// cobra reports unexpected positional arguments and unknown
		// subcommands as "unknown command" errors: both are usage errors.
		if strings.HasPrefix(err.Error(), "unknown command") {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves the configuration and applies flag overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagDataDir)
	if err != nil {
		return config.Config{}, err
	}
	if flagPort != 0 {
		cfg.Port = flagPort
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := daemon.New(cfg.DataDir)
	if err != nil {
		return err
	}
	if d.IsRunning() {
		return fmt.Errorf("muxd is already running (PID %d)", d.LivePID())
	}

	if !flagForeground {
		// Detach: the child re-runs start in foreground mode and authors
		// the PID file itself.
		args := []string{
			"start", "--foreground",
			"--port", strconv.Itoa(cfg.Port),
			"--data-dir", cfg.DataDir,
			"--log-level", cfg.LogLevel,
		}
		pid, err := daemon.Detach(args, cfg.DataDir)
		if err != nil {
			return err
		}
		fmt.Printf("muxd started (PID %d) on port %d\n", pid, cfg.Port)
		return nil
	}

	if _, err := logging.Setup(cfg.LogLevel, cfg.DataDir, false); err != nil {
		return err
	}
	if err := d.WritePID(); err != nil {
		return err
	}
	defer func() {
		if err := d.RemovePIDFile(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}()
	return daemon.Run(cfg, version)
}

func runStop(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := daemon.New(cfg.DataDir)
	if err != nil {
		return err
	}

	if daemon.SupportsSignals() && d.IsRunning() {
		if err := d.Stop(); err == nil {
			fmt.Println("muxd stopped")
			return nil
		} else if !errors.Is(err, daemon.ErrNotRunning) {
			fmt.Fprintf(os.Stderr, "signal stop failed, trying RPC: %v\n", err)
		}
	}

	// Fallback: ask the daemon to shut itself down over the wire.
	c, err := client.Dial(localURL(cfg.Port), client.DefaultDialTimeout)
	if err != nil {
		return fmt.Errorf("muxd is not running on port %d", cfg.Port)
	}
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown request failed: %w", err)
	}
	fmt.Println("muxd stopped")
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := client.Dial(localURL(cfg.Port), client.DefaultDialTimeout)
	if err != nil {
		if flagStatusJSON {
			out, _ := json.Marshal(map[string]any{"running": false, "port": cfg.Port})
			fmt.Println(string(out))
		} else {
			fmt.Printf("muxd is not running on port %d\n", cfg.Port)
		}
		return fmt.Errorf("not running")
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("status call failed: %w", err)
	}
	if flagStatusJSON {
		out, err := json.Marshal(status)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	fmt.Println("muxd is running")
	fmt.Printf("  PID: %d\n", status.PID)
	fmt.Printf("  Version: %s\n", status.Version)
	fmt.Printf("  Protocol: %s\n", status.ProtocolVersion)
	fmt.Printf("  Sessions: %d\n", status.Sessions)
	fmt.Printf("  Total panes: %d\n", status.TotalPanes)
	fmt.Printf("  Uptime: %ds\n", status.UptimeSeconds)
	return nil
}

func localURL(port int) string {
	return fmt.Sprintf("ws://127.0.0.1:%d/ws", port)
}
