package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/smallnest/ringbuffer"
	"github.com/yegors/clipgremlin/internal/clock"
	"github.com/yegors/clipgremlin/pkg/logger"
)

// Import logger functions
var (
	String   = logger.String
	Int      = logger.Int
	Int64    = logger.Int64
	Duration = logger.Duration
	Error    = logger.Error
)

// ErrStreamEnded is reported when the decoder exits cleanly without being stopped
var ErrStreamEnded = errors.New("audio stream ended")

// Config contains configuration for audio capture
type Config struct {
	FFmpegPath               string
	Format                   Format
	SegmentDuration          time.Duration // wall-clock length of one segment
	MaxSegmentBytes          int           // encoded segments larger than this are dropped
	Pace                     time.Duration // delay after each delivered segment
	BufferSegments           int           // ring buffer capacity, in segments
	StopGrace                time.Duration // SIGTERM to SIGKILL grace period
	FFmpegTimeoutSecs        int           // FFmpeg connection timeout in seconds (0 = no timeout)
	FFmpegReconnectDelaySecs int           // FFmpeg reconnect delay in seconds
}

// CommandFunc builds the decoder process for a locator
type CommandFunc func(ctx context.Context, locator string) *exec.Cmd

// Option customises a Capture
type Option func(*Capture)

// WithCommand replaces the ffmpeg command builder
func WithCommand(fn CommandFunc) Option {
	return func(c *Capture) { c.command = fn }
}

// WithClock sets the clock used for pacing
func WithClock(clk clock.Clock) Option {
	return func(c *Capture) { c.clock = clk }
}

// WithDropHook is called with the encoded size of every dropped segment
func WithDropHook(fn func(size int)) Option {
	return func(c *Capture) { c.onDrop = fn }
}

// Capture launches one decoder process per Open call and slices its output
// into fixed-duration PCM segments
type Capture struct {
	cfg     Config
	command CommandFunc
	clock   clock.Clock
	onDrop  func(size int)
	logger  *logger.Logger
}

// NewCapture creates a new capture factory
func NewCapture(cfg Config, log *logger.Logger, opts ...Option) *Capture {
	if cfg.Format.BitsPerSample == 0 {
		cfg.Format.BitsPerSample = 16
	}
	if cfg.BufferSegments <= 0 {
		cfg.BufferSegments = 2
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 5 * time.Second
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}

	c := &Capture{
		cfg:    cfg,
		clock:  clock.Real(),
		logger: log.Named("capture"),
	}
	c.command = c.ffmpegCommand
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SegmentBytes returns the PCM size of one segment
func (c *Capture) SegmentBytes() int {
	return c.cfg.Format.BytesFor(c.cfg.SegmentDuration)
}

// ffmpegCommand builds the decoder invocation: any input, mono 16-bit PCM on stdout
func (c *Capture) ffmpegCommand(ctx context.Context, locator string) *exec.Cmd {
	args := []string{
		"-loglevel", "error", // Minimal logging
		"-nostdin",
	}

	if strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://") {
		// Add timeout if configured (convert seconds to microseconds)
		if c.cfg.FFmpegTimeoutSecs > 0 {
			args = append(args, "-timeout", fmt.Sprintf("%d", c.cfg.FFmpegTimeoutSecs*1000000))
		}
		args = append(args,
			"-reconnect", "1", // Enable reconnection
			"-reconnect_streamed", "1", // Reconnect for streamed inputs
			"-reconnect_delay_max", fmt.Sprintf("%d", c.cfg.FFmpegReconnectDelaySecs),
		)
	}

	args = append(args,
		"-i", locator, // Input URL
		"-vn",            // Drop video
		"-f", "s16le", // Raw PCM
		"-acodec", "pcm_s16le", // Audio codec
		"-ac", fmt.Sprintf("%d", c.cfg.Format.Channels), // Channels
		"-ar", fmt.Sprintf("%d", c.cfg.Format.SampleRate), // Sample rate
		"pipe:1", // Output to stdout
	)

	return exec.CommandContext(ctx, c.cfg.FFmpegPath, args...)
}

// Open starts a decoder for the locator and returns the segment stream.
// The stream is not restartable; call Open again for a new process.
func (c *Capture) Open(ctx context.Context, locator string) (*Stream, error) {
	segBytes := c.SegmentBytes()
	if segBytes <= 0 {
		return nil, fmt.Errorf("invalid segment size %d", segBytes)
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := c.command(procCtx, locator)
	cmd.Cancel = func() error {
		// Graceful first; WaitDelay escalates to SIGKILL
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = c.cfg.StopGrace
	cmd.Stderr = &lineLogger{logger: c.logger}

	// The read end stays ours so Wait never closes it under the pump
	stdout, pw, err := os.Pipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	cmd.Stdout = pw

	c.logger.Info("Starting audio capture",
		String("locator", locator),
		Int("segment_bytes", segBytes),
		Duration("segment_duration", c.cfg.SegmentDuration))

	err = cmd.Start()
	pw.Close()
	if err != nil {
		stdout.Close()
		cancel()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	s := &Stream{
		capture:  c,
		cmd:      cmd,
		stdout:   stdout,
		ctx:      procCtx,
		cancel:   cancel,
		rb:       ringbuffer.New(segBytes * c.cfg.BufferSegments).SetBlocking(true),
		segments: make(chan Segment),
		done:     make(chan struct{}),
		pumpDone: make(chan struct{}),
		segBytes: segBytes,
	}

	go s.pump(stdout)
	go s.run()
	go func() {
		// Wake a segmenter blocked on an empty buffer
		<-procCtx.Done()
		s.rb.CloseWithError(procCtx.Err())
	}()

	return s, nil
}

// Stream is a live sequence of segments backed by one decoder process
type Stream struct {
	capture  *Capture
	cmd      *exec.Cmd
	stdout   *os.File
	ctx      context.Context
	cancel   context.CancelFunc
	rb       *ringbuffer.RingBuffer
	segments chan Segment
	done     chan struct{}
	pumpDone chan struct{}
	segBytes int
	stopOnce sync.Once
	err      error

	stopRequested atomic.Bool

	delivered atomic.Int64
	dropped   atomic.Int64
}

// Segments returns the segment channel. It is closed when the stream ends.
func (s *Stream) Segments() <-chan Segment {
	return s.segments
}

// Done is closed once the process has exited and all goroutines returned
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error after Done: nil when stopped,
// ErrStreamEnded on a clean decoder exit, otherwise the failure
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Delivered returns the number of segments handed to the consumer
func (s *Stream) Delivered() int64 { return s.delivered.Load() }

// Dropped returns the number of oversized segments skipped
func (s *Stream) Dropped() int64 { return s.dropped.Load() }

// Stop terminates the decoder and waits for the stream to finish.
// It is safe to call multiple times and from any goroutine.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		s.capture.logger.Info("Stopping audio capture")
		s.cancel()
	})
	<-s.done
}

// pump copies decoder output into the ring buffer
func (s *Stream) pump(stdout io.Reader) {
	defer close(s.pumpDone)

	buffer := make([]byte, 4096)
	var total int64
	for {
		n, err := stdout.Read(buffer)
		if n > 0 {
			total += int64(n)
			if _, werr := s.rb.Write(buffer[:n]); werr != nil {
				// Reader side is gone; stop copying
				return
			}
		}
		if err != nil {
			if err != io.EOF && s.ctx.Err() == nil {
				s.capture.logger.Warn("Error reading from ffmpeg", Error(err), Int64("total_bytes", total))
				s.rb.CloseWithError(err)
				return
			}
			s.rb.CloseWriter()
			return
		}
	}
}

// run slices the buffered bytes into segments, then reaps the process
func (s *Stream) run() {
	readErr := s.segment()

	// Unblock a pump stuck on a full buffer
	s.rb.CloseWithError(io.ErrClosedPipe)

	// A decoder that closed stdout has normally exited already; give it the
	// grace period before the context cancellation escalates
	if readErr == nil || (!errors.Is(readErr, io.EOF) && !errors.Is(readErr, io.ErrUnexpectedEOF)) {
		s.cancel()
	}
	escalate := time.AfterFunc(s.capture.cfg.StopGrace, s.cancel)
	waitErr := s.cmd.Wait()
	escalate.Stop()

	// An orphaned child can keep the write end open after the decoder exits
	select {
	case <-s.pumpDone:
	case <-time.After(s.capture.cfg.StopGrace):
		s.capture.logger.Warn("Decoder output still open after exit, closing it")
	}
	s.cancel()
	s.stdout.Close()
	<-s.pumpDone

	switch {
	case s.stopRequested.Load():
		s.err = nil
	case readErr != nil && !errors.Is(readErr, io.EOF) && !errors.Is(readErr, io.ErrUnexpectedEOF):
		s.err = fmt.Errorf("audio read failed: %w", readErr)
	case waitErr != nil:
		s.err = fmt.Errorf("ffmpeg exited: %w", waitErr)
	default:
		s.err = ErrStreamEnded
	}

	s.capture.logger.Info("Audio capture finished",
		Int64("delivered", s.delivered.Load()),
		Int64("dropped", s.dropped.Load()),
		String("reason", fmt.Sprint(s.err)))
	close(s.done)
	close(s.segments)
}

// segment reads exactly-sized segments until the buffer ends or the stream stops
func (s *Stream) segment() error {
	c := s.capture
	buf := make([]byte, s.segBytes)
	seq := 0
	for {
		if _, err := io.ReadFull(s.rb, buf); err != nil {
			if s.ctx.Err() != nil {
				s.stopRequested.Store(true)
				return nil
			}
			// A trailing partial segment is discarded
			return err
		}

		seg := Segment{
			Seq:      seq,
			PCM:      append([]byte(nil), buf...),
			Format:   c.cfg.Format,
			Duration: c.cfg.SegmentDuration,
		}
		seq++

		if size := seg.EncodedSize(); c.cfg.MaxSegmentBytes > 0 && size > c.cfg.MaxSegmentBytes {
			s.dropped.Add(1)
			c.logger.Warn("Dropping oversized audio segment",
				Int("seq", seg.Seq),
				Int("size_bytes", size),
				Int("max_bytes", c.cfg.MaxSegmentBytes))
			if c.onDrop != nil {
				c.onDrop(size)
			}
			continue
		}

		select {
		case s.segments <- seg:
			s.delivered.Add(1)
		case <-s.ctx.Done():
			s.stopRequested.Store(true)
			return nil
		}

		if c.cfg.Pace > 0 {
			select {
			case <-c.clock.After(c.cfg.Pace):
			case <-s.ctx.Done():
				s.stopRequested.Store(true)
				return nil
			}
		}
	}
}

// lineLogger forwards decoder stderr to the log
type lineLogger struct {
	logger *logger.Logger
	mu     sync.Mutex
	buf    []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		if line := strings.TrimSpace(string(l.buf[:i])); line != "" {
			l.logger.Warn("ffmpeg", String("line", line))
		}
		l.buf = l.buf[i+1:]
	}
	if len(l.buf) > 4096 {
		l.buf = l.buf[:0]
	}
	return len(p), nil
}
