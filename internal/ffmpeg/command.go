// Package ffmpeg builds ffmpeg argument lists and runs the ffmpeg binary,
// streaming its stderr and watching its memory use.
package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrMemoryLimit is returned by Run when the process exceeded its memory limit.
var ErrMemoryLimit = errors.New("ffmpeg exceeded memory limit")

// maxStderrLines is how many trailing stderr lines a Command keeps.
const maxStderrLines = 50

// CommandBuilder builds ffmpeg argument lists with a fluent API.
type CommandBuilder struct {
	globalArgs []string
	inputArgs  []string
	input      string
	outputArgs []string
	output     string
	logLevel   string
	overwrite  bool
}

// NewCommandBuilder creates a builder with no log level or overwrite flag set.
func NewCommandBuilder() *CommandBuilder {
	return &CommandBuilder{}
}

// LogLevel sets -loglevel.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner adds -hide_banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// Overwrite adds -y.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// Input sets the input file.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// InputArgs adds arguments placed before -i.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// NoVideo drops every video stream.
func (b *CommandBuilder) NoVideo() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-vn")
	return b
}

// AudioCodec sets the audio codec. "copy" remuxes without re-encoding.
func (b *CommandBuilder) AudioCodec(codec string) *CommandBuilder {
	if codec != "" {
		b.outputArgs = append(b.outputArgs, "-acodec", codec)
	}
	return b
}

// AudioBitrate sets the audio bitrate, e.g. "64k".
func (b *CommandBuilder) AudioBitrate(bitrate string) *CommandBuilder {
	if bitrate != "" {
		b.outputArgs = append(b.outputArgs, "-b:a", bitrate)
	}
	return b
}

// AudioSampleRate sets the output sample rate in Hz.
func (b *CommandBuilder) AudioSampleRate(hz int) *CommandBuilder {
	if hz > 0 {
		b.outputArgs = append(b.outputArgs, "-ar", strconv.Itoa(hz))
	}
	return b
}

// AudioChannels sets the number of output channels.
func (b *CommandBuilder) AudioChannels(channels int) *CommandBuilder {
	if channels > 0 {
		b.outputArgs = append(b.outputArgs, "-ac", strconv.Itoa(channels))
	}
	return b
}

// OutputArgs adds arbitrary output arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// Output sets the output file.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Args returns the argument list, without the binary name.
func (b *CommandBuilder) Args() []string {
	var args []string
	if b.logLevel != "" {
		args = append(args, "-loglevel", b.logLevel)
	}
	args = append(args, b.globalArgs...)
	if b.overwrite {
		args = append(args, "-y")
	}
	args = append(args, b.inputArgs...)
	args = append(args, "-i", b.input)
	args = append(args, b.outputArgs...)
	return append(args, b.output)
}

// Command is one ffmpeg invocation.
type Command struct {
	Binary string
	Args   []string
	// Dir is the working directory relative paths resolve against.
	Dir string

	// OnStderr receives every stderr line as it is produced.
	OnStderr func(line string)
	// MemoryLimit kills the process once its RSS exceeds this many bytes. Zero disables it.
	MemoryLimit uint64
	// SampleInterval is how often memory is checked. Defaults to 250ms.
	SampleInterval time.Duration

	mu          sync.Mutex
	stderrLines []string
	peakRSS     uint64
	duration    time.Duration
}

// NewCommand creates a command for binary with args.
func NewCommand(binary string, args []string) *Command {
	return &Command{Binary: binary, Args: args}
}

// String returns the command line.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Run starts the process and waits for it. A non-zero exit is reported with
// the last stderr line. When the memory limit trips the error wraps ErrMemoryLimit.
func (c *Command) Run(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	cmd.Dir = c.Dir
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("getting stderr pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	var monitor *ProcessMonitor
	if c.MemoryLimit > 0 {
		monitor = NewProcessMonitor(cmd.Process.Pid, c.MemoryLimit, c.SampleInterval, func() {
			_ = cmd.Process.Kill()
		})
		monitor.Start()
	}

	// Stderr must be drained before Wait closes the pipe.
	c.readStderr(stderr)
	waitErr := cmd.Wait()

	c.mu.Lock()
	c.duration = time.Since(start)
	c.mu.Unlock()

	if monitor != nil {
		monitor.Stop()
		c.mu.Lock()
		c.peakRSS = monitor.PeakRSS()
		c.mu.Unlock()
		if monitor.Exceeded() {
			return fmt.Errorf("%w: peak rss %d bytes", ErrMemoryLimit, monitor.PeakRSS())
		}
	}

	if waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if last := c.LastStderr(); last != "" {
			return fmt.Errorf("ffmpeg failed: %w: %s", waitErr, last)
		}
		return fmt.Errorf("ffmpeg failed: %w", waitErr)
	}
	return nil
}

func (c *Command) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	// ffmpeg rewrites its status line with \r.
	scanner.Split(scanLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c.mu.Lock()
		c.stderrLines = append(c.stderrLines, line)
		if len(c.stderrLines) > maxStderrLines {
			c.stderrLines = c.stderrLines[len(c.stderrLines)-maxStderrLines:]
		}
		c.mu.Unlock()
		if c.OnStderr != nil {
			c.OnStderr(line)
		}
	}
	// Keep draining so the process never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}

// scanLines splits on \n, \r\n or a bare \r.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// StderrLines returns the most recent stderr lines.
func (c *Command) StderrLines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.stderrLines...)
}

// LastStderr returns the final stderr line, or "".
func (c *Command) LastStderr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.stderrLines) == 0 {
		return ""
	}
	return c.stderrLines[len(c.stderrLines)-1]
}

// PeakRSS returns the highest resident set size observed, when monitored.
func (c *Command) PeakRSS() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peakRSS
}

// Duration returns how long the last Run took.
func (c *Command) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}
