package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/audex/internal/extract"
	"github.com/jmylchreest/audex/internal/progress"
	"github.com/jmylchreest/audex/internal/storage"
	"github.com/jmylchreest/audex/pkg/format"
)

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Extract the audio track of a media file",
	Long: `Extract the audio track of a media file.

The audio stream is copied into an M4A container when possible, otherwise it
is re-encoded to a low-bitrate mono MP3. The result is written next to the
input (or into --output) as <name>_audio.m4a or <name>_audio.mp3.

Files at or below extraction.size_threshold are skipped unless --force is set.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringP("output", "o", "", "Output directory (default is the input file's directory)")
	extractCmd.Flags().Bool("diagnostics", false, "Capture engine logs and print a diagnostics report")
	extractCmd.Flags().Duration("timeout", 0, "Extraction timeout (default is extraction.timeout)")
	extractCmd.Flags().Bool("force", false, "Extract even when the file is below the size threshold")
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	outDir, _ := cmd.Flags().GetString("output")
	diagnostics, _ := cmd.Flags().GetBool("diagnostics")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	force, _ := cmd.Flags().GetBool("force")

	src, err := extract.OpenFile(args[0])
	if err != nil {
		return err
	}
	defer src.Close()

	stack, err := newEngineStack(cfg, logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	stderr := cmd.ErrOrStderr()
	if !force && !stack.service.ShouldExtractAudio(src) {
		fmt.Fprintf(stderr, "%s is %s, at or below the %s threshold; skipping (use --force to extract anyway)\n",
			src.Name(), format.Bytes(src.Size()), format.Bytes(stack.service.Policy().SizeThreshold))
		return nil
	}

	if outDir == "" {
		outDir = filepath.Dir(args[0])
	}
	out, err := storage.NewSandbox(outDir)
	if err != nil {
		return fmt.Errorf("opening output directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	res, err := stack.service.ExtractAudio(ctx, src, extract.Options{
		OnProgress:        progressPrinter(stderr),
		EnableDiagnostics: diagnostics,
		Timeout:           timeout,
	})
	fmt.Fprintln(stderr)
	if err != nil {
		var extractErr *extract.Error
		if errors.As(err, &extractErr) && extractErr.Diagnostics != nil {
			fmt.Fprintln(stderr, extract.FormatDiagnosticsReport(extractErr.Diagnostics))
		}
		if kind := extract.KindOf(err); kind != extract.KindUnknown {
			return fmt.Errorf("%s: %w", kind.Message(), err)
		}
		return fmt.Errorf("extracting %s: %w", src.Name(), err)
	}

	if err := out.AtomicWrite(res.Output.Name, res.Output.Data); err != nil {
		return fmt.Errorf("writing %s: %w", res.Output.Name, err)
	}
	path, _ := out.ResolvePath(res.Output.Name)

	if res.Diagnostics != nil {
		fmt.Fprintln(stderr, extract.FormatDiagnosticsReport(res.Diagnostics))
	}
	fmt.Fprintf(stderr, "%s: %s (%s, %s) in %s\n",
		res.Mode, path, res.Output.Type, format.Bytes(int64(len(res.Output.Data))), format.Duration(time.Since(start)))
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

// progressPrinter renders progress events as a single rewritten line.
func progressPrinter(w io.Writer) progress.Func {
	return func(ev progress.Event) {
		fmt.Fprintf(w, "\r\033[K[%-12s] %3d%% %s", ev.Stage, ev.Percent, ev.Message)
	}
}
