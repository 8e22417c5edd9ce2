package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/audex/internal/engine"
	"github.com/jmylchreest/audex/pkg/format"
)

var preloadCmd = &cobra.Command{
	Use:   "preload",
	Short: "Download and initialise the codec engine",
	Long: `Download the codec engine from the configured mirrors, install it into the
sandbox and verify it runs. Mirrors are tried in order.`,
	Args: cobra.NoArgs,
	RunE: runPreload,
}

func init() {
	rootCmd.AddCommand(preloadCmd)
}

func runPreload(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	stack, err := newEngineStack(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer stack.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stderr := cmd.ErrOrStderr()
	start := time.Now()
	eng, err := stack.loader.Get(ctx, progressPrinter(stderr))
	fmt.Fprintln(stderr)
	if err != nil {
		return fmt.Errorf("loading engine: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Engine ready in %s\n", format.Duration(time.Since(start)))
	fmt.Fprintf(out, "  Mirror:  %s\n", stack.loader.Mirror())
	if d, ok := eng.(engine.Describer); ok {
		info := d.Info()
		fmt.Fprintf(out, "  Name:    %s\n", info.Name)
		fmt.Fprintf(out, "  Version: %s\n", info.Version)
	}
	return nil
}
