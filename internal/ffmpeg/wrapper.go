package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// maxStderrLines bounds the stderr ring buffer kept for diagnostics.
const maxStderrLines = 100

// Command represents an FFmpeg command to execute.
type Command struct {
	Binary   string
	Args     []string
	Inputs   []string
	Output   string
	LogLevel string

	cmd     *exec.Cmd
	started time.Time
	mu      sync.RWMutex

	monitor *ProcessMonitor

	stderrLines []string
	stderrMu    sync.RWMutex
	stderrDone  chan struct{}
}

// Progress represents FFmpeg progress information.
type Progress struct {
	Frame     int64         `json:"frame"`
	FPS       float64       `json:"fps"`
	Bitrate   string        `json:"bitrate"`
	TotalSize int64         `json:"total_size"`
	Time      time.Duration `json:"time"`
	Speed     float64       `json:"speed"`
}

type inputSpec struct {
	args []string
	url  string
}

// CommandBuilder builds FFmpeg commands with a fluent API.
type CommandBuilder struct {
	binary        string
	globalArgs    []string
	pendingInput  []string
	inputs        []inputSpec
	videoFilters  []string
	filterComplex string
	maps          []string
	outputArgs    []string
	output        string
	logLevel      string
	overwrite     bool
}

// NewCommandBuilder creates a new FFmpeg command builder.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "error",
	}
}

// LogLevel sets the FFmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner hides the FFmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// NoStdin stops FFmpeg from reading interactive commands from stdin.
func (b *CommandBuilder) NoStdin() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-nostdin")
	return b
}

// Overwrite enables output file overwriting.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// Stats enables periodic progress stats on stderr.
func (b *CommandBuilder) Stats() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-stats")
	return b
}

// InputArgs adds options that apply to the next Input.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.pendingInput = append(b.pendingInput, args...)
	return b
}

// Input adds an input, consuming any pending InputArgs. Inputs are numbered
// in the order they are added.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.inputs = append(b.inputs, inputSpec{args: b.pendingInput, url: input})
	b.pendingInput = nil
	return b
}

// VideoCodec sets the video codec.
func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:v", codec)
	return b
}

// AudioCodec sets the audio codec.
func (b *CommandBuilder) AudioCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:a", codec)
	return b
}

// VideoBitrate sets the video bitrate.
func (b *CommandBuilder) VideoBitrate(bitrate string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-b:v", bitrate)
	return b
}

// AudioBitrate sets the audio bitrate.
func (b *CommandBuilder) AudioBitrate(bitrate string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-b:a", bitrate)
	return b
}

// VideoPreset sets the encoder preset.
func (b *CommandBuilder) VideoPreset(preset string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-preset", preset)
	return b
}

// VideoFilter appends a filter to the simple video filter chain.
func (b *CommandBuilder) VideoFilter(filter string) *CommandBuilder {
	b.videoFilters = append(b.videoFilters, filter)
	return b
}

// FilterComplex sets the -filter_complex graph.
func (b *CommandBuilder) FilterComplex(graph string) *CommandBuilder {
	b.filterComplex = graph
	return b
}

// Map selects a stream (e.g. "0:v" or "[aout]") for the output.
func (b *CommandBuilder) Map(spec string) *CommandBuilder {
	b.maps = append(b.maps, spec)
	return b
}

// ConstantFrameRate forces a constant output frame rate regardless of input
// timestamps.
func (b *CommandBuilder) ConstantFrameRate(fps float64) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-r", FormatRate(fps), "-fps_mode", "cfr")
	return b
}

// FastStart moves the moov atom to the front of progressive MP4 output.
func (b *CommandBuilder) FastStart() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-movflags", "+faststart")
	return b
}

// OutputArgs adds raw output options.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// Output sets the output destination.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Build builds the command.
func (b *CommandBuilder) Build() *Command {
	var args []string

	args = append(args, "-loglevel", b.logLevel)
	args = append(args, b.globalArgs...)

	if b.overwrite {
		args = append(args, "-y")
	}

	urls := make([]string, 0, len(b.inputs))
	for _, in := range b.inputs {
		args = append(args, in.args...)
		args = append(args, "-i", in.url)
		urls = append(urls, in.url)
	}

	if b.filterComplex != "" {
		args = append(args, "-filter_complex", b.filterComplex)
	}
	if len(b.videoFilters) > 0 {
		args = append(args, "-vf", strings.Join(b.videoFilters, ","))
	}
	for _, m := range b.maps {
		args = append(args, "-map", m)
	}

	args = append(args, b.outputArgs...)
	args = append(args, b.output)

	return &Command{
		Binary:      b.binary,
		Args:        args,
		Inputs:      urls,
		Output:      b.output,
		LogLevel:    b.logLevel,
		stderrLines: make([]string, 0, maxStderrLines),
	}
}

// FormatRate renders a frame rate the way FFmpeg expects it.
func FormatRate(fps float64) string {
	return strconv.FormatFloat(fps, 'f', -1, 64)
}

// String returns the command as a string.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Run executes the command and waits for completion, keeping the stderr tail.
func (c *Command) Run(ctx context.Context) error {
	return c.RunWithProgress(ctx, nil)
}

// RunWithProgress runs the command and reports progress parsed from stderr.
// A nil channel disables progress reporting.
func (c *Command) RunWithProgress(ctx context.Context, progressCh chan<- Progress) error {
	c.mu.Lock()
	c.cmd = exec.CommandContext(ctx, c.Binary, c.Args...)
	c.started = time.Now()

	stderr, err := c.cmd.StderrPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("getting stderr pipe: %w", err)
	}
	c.mu.Unlock()

	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}
	c.startMonitor()
	defer c.stopMonitor()

	done := make(chan struct{})
	go c.captureStderr(stderr, progressCh, done)
	<-done

	return c.cmd.Wait()
}

// Pipes are the stdio handles of a started command.
type Pipes struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
}

// Start starts the command with stdin/stdout pipes. Stderr is captured in the
// background; call Wait to reap the process.
func (c *Command) Start(ctx context.Context) (*Pipes, error) {
	c.mu.Lock()
	c.cmd = exec.CommandContext(ctx, c.Binary, c.Args...)
	c.started = time.Now()

	stdin, err := c.cmd.StdinPipe()
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("getting stdin pipe: %w", err)
	}
	stdout, err := c.cmd.StdoutPipe()
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("getting stdout pipe: %w", err)
	}
	stderr, err := c.cmd.StderrPipe()
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("getting stderr pipe: %w", err)
	}
	c.stderrDone = make(chan struct{})
	done := c.stderrDone
	c.mu.Unlock()

	if err := c.cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}
	c.startMonitor()
	go c.captureStderr(stderr, nil, done)

	mon := c.Monitor()
	return &Pipes{
		Stdin:  writeCloser{Writer: NewCountingWriter(stdin, mon), Closer: stdin},
		Stdout: readCloser{Reader: NewCountingReader(stdout, mon), Closer: stdout},
	}, nil
}

// Wait waits for a started command. Stdout must be drained first.
func (c *Command) Wait() error {
	c.mu.RLock()
	cmd := c.cmd
	done := c.stderrDone
	c.mu.RUnlock()

	if cmd == nil {
		return errors.New("command not started")
	}
	if done != nil {
		<-done
	}
	defer c.stopMonitor()
	return cmd.Wait()
}

// Kill terminates the FFmpeg process.
func (c *Command) Kill() error {
	c.mu.RLock()
	cmd := c.cmd
	c.mu.RUnlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

// Duration returns how long the command has been running.
func (c *Command) Duration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started)
}

var (
	frameRe   = regexp.MustCompile(`frame=\s*(\d+)`)
	fpsRe     = regexp.MustCompile(`fps=\s*([\d.]+)`)
	bitrateRe = regexp.MustCompile(`bitrate=\s*([\d.]+\s*\w+/s)`)
	sizeRe    = regexp.MustCompile(`size=\s*(\d+)`)
	timeRe    = regexp.MustCompile(`time=(\d+):(\d+):(\d+)\.(\d+)`)
	speedRe   = regexp.MustCompile(`speed=\s*([\d.]+)x`)
)

// ParseProgress extracts progress fields from one stderr stats line. The
// boolean is false when the line carries no frame counter.
func ParseProgress(line string, p Progress) (Progress, bool) {
	m := frameRe.FindStringSubmatch(line)
	if len(m) < 2 {
		return p, false
	}
	p.Frame, _ = strconv.ParseInt(m[1], 10, 64)

	if m := fpsRe.FindStringSubmatch(line); len(m) > 1 {
		p.FPS, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := bitrateRe.FindStringSubmatch(line); len(m) > 1 {
		p.Bitrate = m[1]
	}
	if m := sizeRe.FindStringSubmatch(line); len(m) > 1 {
		p.TotalSize, _ = strconv.ParseInt(m[1], 10, 64)
	}
	if m := timeRe.FindStringSubmatch(line); len(m) > 4 {
		hours, _ := strconv.Atoi(m[1])
		mins, _ := strconv.Atoi(m[2])
		secs, _ := strconv.Atoi(m[3])
		centis, _ := strconv.Atoi(m[4])
		p.Time = time.Duration(hours)*time.Hour +
			time.Duration(mins)*time.Minute +
			time.Duration(secs)*time.Second +
			time.Duration(centis)*10*time.Millisecond
	}
	if m := speedRe.FindStringSubmatch(line); len(m) > 1 {
		p.Speed, _ = strconv.ParseFloat(m[1], 64)
	}
	return p, true
}

// captureStderr keeps the most recent stderr lines and forwards progress.
// FFmpeg separates stats updates with carriage returns, so both CR and LF
// end a line.
func (c *Command) captureStderr(stderr io.Reader, progressCh chan<- Progress, done chan struct{}) {
	defer close(done)

	scanner := bufio.NewScanner(stderr)
	scanner.Split(scanLinesCR)
	var progress Progress

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if p, ok := ParseProgress(line, progress); ok {
			progress = p
			if progressCh != nil {
				select {
				case progressCh <- progress:
				default:
				}
			}
			continue
		}

		c.stderrMu.Lock()
		if len(c.stderrLines) >= maxStderrLines {
			c.stderrLines = c.stderrLines[1:]
		}
		c.stderrLines = append(c.stderrLines, line)
		c.stderrMu.Unlock()
	}
}

func scanLinesCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// GetStderrLines returns the recent stderr lines captured from FFmpeg.
func (c *Command) GetStderrLines() []string {
	c.stderrMu.RLock()
	defer c.stderrMu.RUnlock()

	lines := make([]string, len(c.stderrLines))
	copy(lines, c.stderrLines)
	return lines
}

// StderrTail returns at most n of the most recent stderr lines.
func (c *Command) StderrTail(n int) []string {
	lines := c.GetStderrLines()
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

func (c *Command) startMonitor() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd == nil || c.cmd.Process == nil {
		return
	}
	c.monitor = NewProcessMonitor(c.cmd.Process.Pid)
	c.monitor.Start()
}

func (c *Command) stopMonitor() {
	c.mu.RLock()
	m := c.monitor
	c.mu.RUnlock()
	if m != nil {
		m.Stop()
	}
}

// ProcessStats returns the latest process statistics, or nil when the
// process was never started.
func (c *Command) ProcessStats() *ProcessStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.monitor == nil {
		return nil
	}
	stats := c.monitor.Stats()
	return &stats
}

// Monitor returns the process monitor, or nil before Start.
func (c *Command) Monitor() *ProcessMonitor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.monitor
}

type writeCloser struct {
	io.Writer
	io.Closer
}

type readCloser struct {
	io.Reader
	io.Closer
}
