package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/audex/pkg/format"
)

// errUnsupported makes check exit non-zero without a second error line.
var errUnsupported = errors.New("extraction is not supported on this host")

var checkJSON bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether this host can run extractions",
	Long: `Check whether this host can run extractions: an engine build exists for the
platform, the sandbox is writable and enough memory is free.

Exits non-zero when extraction is unsupported.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "output the result as JSON")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	stack, err := newEngineStack(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer stack.Close()

	support := stack.support(context.Background())
	out := cmd.OutOrStdout()

	if checkJSON {
		data, err := json.MarshalIndent(support, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		fmt.Fprintln(out, string(data))
	} else {
		status := "supported"
		if !support.Supported {
			status = "unsupported"
		}
		fmt.Fprintf(out, "Extraction: %s\n", status)
		fmt.Fprintf(out, "  Platform:         %s\n", support.Platform)
		if support.AvailableMemory > 0 {
			fmt.Fprintf(out, "  Available memory: %s\n", format.Bytes(int64(support.AvailableMemory)))
		}
		fmt.Fprintf(out, "  Engine loaded:    %t\n", stack.service.IsEngineLoaded())
		for _, reason := range support.Reasons {
			fmt.Fprintf(out, "  - %s\n", reason)
		}
	}

	if !support.Supported {
		cmd.SilenceErrors = true
		return errUnsupported
	}
	return nil
}
