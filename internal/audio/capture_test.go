package audio

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/yegors/clipgremlin/internal/clock"
	"github.com/yegors/clipgremlin/pkg/logger"
)

// 50 Hz mono 16-bit gives 100-byte one-second segments
var tinyFormat = Format{SampleRate: 50, Channels: 1, BitsPerSample: 16}

func writePattern(t *testing.T, n int) (string, []byte) {
	t.Helper()
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "pcm.raw")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path, data
}

func catCommand(ctx context.Context, locator string) *exec.Cmd {
	return exec.CommandContext(ctx, "cat", locator)
}

func collect(t *testing.T, s *Stream) []Segment {
	t.Helper()
	var out []Segment
	timeout := time.After(10 * time.Second)
	for {
		select {
		case seg, ok := <-s.Segments():
			if !ok {
				return out
			}
			out = append(out, seg)
		case <-timeout:
			t.Fatal("timed out waiting for segments")
		}
	}
}

func TestCaptureDeliversExactSegmentsInOrder(t *testing.T) {
	path, data := writePattern(t, 350)

	c := NewCapture(Config{
		Format:          tinyFormat,
		SegmentDuration: time.Second,
		MaxSegmentBytes: 100 + wavHeaderSize,
	}, logger.NewNop(), WithCommand(catCommand))

	stream, err := c.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	segs := collect(t, stream)

	if len(segs) != 3 {
		t.Fatalf("expected 3 whole segments, got %d", len(segs))
	}
	for i, seg := range segs {
		if seg.Seq != i {
			t.Fatalf("segment %d has seq %d", i, seg.Seq)
		}
		if !bytes.Equal(seg.PCM, data[i*100:(i+1)*100]) {
			t.Fatalf("segment %d content mismatch", i)
		}
	}
	if err := stream.Err(); err != ErrStreamEnded {
		t.Fatalf("expected ErrStreamEnded, got %v", err)
	}
	if stream.Delivered() != 3 || stream.Dropped() != 0 {
		t.Fatalf("unexpected counters delivered=%d dropped=%d", stream.Delivered(), stream.Dropped())
	}
}

func TestCaptureDropsOversizedSegments(t *testing.T) {
	path, _ := writePattern(t, 300)

	var mu sync.Mutex
	var dropped []int
	c := NewCapture(Config{
		Format:          tinyFormat,
		SegmentDuration: time.Second,
		MaxSegmentBytes: 100 + wavHeaderSize - 1,
	}, logger.NewNop(), WithCommand(catCommand), WithDropHook(func(size int) {
		mu.Lock()
		dropped = append(dropped, size)
		mu.Unlock()
	}))

	stream, err := c.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if segs := collect(t, stream); len(segs) != 0 {
		t.Fatalf("oversized segments must never be delivered, got %d", len(segs))
	}
	if stream.Dropped() != 3 {
		t.Fatalf("expected 3 drops, got %d", stream.Dropped())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(dropped) != 3 || dropped[0] != 100+wavHeaderSize {
		t.Fatalf("unexpected drop hook calls %v", dropped)
	}
}

func TestCaptureStopIsIdempotentAndKillsStubbornProcess(t *testing.T) {
	stubborn := func(ctx context.Context, locator string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", `trap "" TERM; while :; do printf abcd; sleep 0.05; done`)
	}
	c := NewCapture(Config{
		Format:          tinyFormat,
		SegmentDuration: time.Second,
		StopGrace:       200 * time.Millisecond,
	}, logger.NewNop(), WithCommand(stubborn))

	stream, err := c.Open(context.Background(), "ignored")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	stopped := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				stream.Stop()
			}()
		}
		wg.Wait()
		stream.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(10 * time.Second):
		t.Fatal("Stop did not return")
	}

	if _, ok := <-stream.Segments(); ok {
		// drain anything produced before the stop, then require closure
		for range stream.Segments() {
		}
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stopped stream should report no error, got %v", err)
	}
}

func TestCapturePacesDelivery(t *testing.T) {
	path, _ := writePattern(t, 300)
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	c := NewCapture(Config{
		Format:          tinyFormat,
		SegmentDuration: time.Second,
		Pace:            time.Second,
	}, logger.NewNop(), WithCommand(catCommand), WithClock(clk))

	stream, err := c.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer stream.Stop()

	for i := 0; i < 3; i++ {
		select {
		case seg := <-stream.Segments():
			if seg.Seq != i {
				t.Fatalf("expected seq %d, got %d", i, seg.Seq)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("segment %d not delivered", i)
		}

		deadline := time.Now().Add(5 * time.Second)
		for clk.Waiters() == 0 {
			if time.Now().After(deadline) {
				t.Fatalf("no pacing delay after segment %d", i)
			}
			time.Sleep(5 * time.Millisecond)
		}
		select {
		case seg, ok := <-stream.Segments():
			if ok {
				t.Fatalf("segment %d delivered before the pacing delay elapsed", seg.Seq)
			}
			t.Fatal("stream closed before the pacing delay elapsed")
		case <-time.After(50 * time.Millisecond):
		}
		clk.Advance(time.Second)
	}

	if segs := collect(t, stream); len(segs) != 0 {
		t.Fatalf("expected no further segments, got %d", len(segs))
	}
	if err := stream.Err(); err != ErrStreamEnded {
		t.Fatalf("expected ErrStreamEnded, got %v", err)
	}
}

func TestCaptureStopWithOrphanHoldingOutput(t *testing.T) {
	orphaned := func(ctx context.Context, locator string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", "head -c 100 /dev/zero; sleep 5 &")
	}
	c := NewCapture(Config{
		Format:          tinyFormat,
		SegmentDuration: time.Second,
		StopGrace:       200 * time.Millisecond,
	}, logger.NewNop(), WithCommand(orphaned))

	stream, err := c.Open(context.Background(), "ignored")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	select {
	case seg := <-stream.Segments():
		if len(seg.PCM) != 100 {
			t.Fatalf("expected a full segment, got %d bytes", len(seg.PCM))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("segment not delivered")
	}

	stopped := make(chan struct{})
	go func() {
		stream.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop blocked while an orphan held the decoder output")
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stopped stream should report no error, got %v", err)
	}
}

func TestCaptureReportsDecoderFailure(t *testing.T) {
	failing := func(ctx context.Context, locator string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", "exit 3")
	}
	c := NewCapture(Config{Format: tinyFormat, SegmentDuration: time.Second}, logger.NewNop(), WithCommand(failing))

	stream, err := c.Open(context.Background(), "ignored")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	collect(t, stream)
	if err := stream.Err(); err == nil || err == ErrStreamEnded {
		t.Fatalf("expected exit failure, got %v", err)
	}
}

func TestFFmpegArgs(t *testing.T) {
	c := NewCapture(Config{
		Format:            Format{SampleRate: 16000, Channels: 1},
		SegmentDuration:   10 * time.Second,
		FFmpegTimeoutSecs: 5,
	}, logger.NewNop())

	cmd := c.ffmpegCommand(context.Background(), "https://example.test/live.m3u8")
	args := cmd.Args
	joined := " " + filepath.Base(args[0])
	for _, a := range args[1:] {
		joined += " " + a
	}
	for _, want := range []string{" -i https://example.test/live.m3u8", " -ar 16000", " -ac 1", " -f s16le", " -reconnect 1", " -timeout 5000000", " pipe:1"} {
		if !bytes.Contains([]byte(joined), []byte(want)) {
			t.Fatalf("missing %q in %q", want, joined)
		}
	}
}
