package classify

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/songseungho-v/ai-clothes-sorter/internal/types"
)

// maxResponseBytes bounds a single sidecar response message.
const maxResponseBytes = 16 << 20

// Sidecar drives an external classifier process over stdin/stdout.
//
// Wire protocol, both directions: a 4-byte big-endian length prefix
// followed by one MsgPack message. MsgPack carries the frame bytes
// natively, no base64 overhead.
//
// Request:  {frame_data: bytes, width: int, height: int, confidence: float}
// Response: {detections: [{label: str, score: float, box: [x1,y1,x2,y2]}], error: str}
//
// Calls are strictly serialized (one request in flight); the classifier
// contract is a synchronous, possibly slow function call and the
// callers are independent device workers that may block on their own
// progress.
type Sidecar struct {
	command string
	args    []string
	timeout time.Duration

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

type sidecarRequest struct {
	FrameData  []byte  `msgpack:"frame_data"`
	Width      int     `msgpack:"width"`
	Height     int     `msgpack:"height"`
	Confidence float64 `msgpack:"confidence"`
}

type sidecarDetection struct {
	Label string  `msgpack:"label"`
	Score float64 `msgpack:"score"`
	Box   []int   `msgpack:"box"`
}

type sidecarResponse struct {
	Detections []sidecarDetection `msgpack:"detections"`
	Error      string             `msgpack:"error"`
}

// NewSidecar creates an unstarted sidecar classifier.
func NewSidecar(command string, args []string, timeout time.Duration) *Sidecar {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sidecar{command: command, args: args, timeout: timeout}
}

// Start launches the model process.
func (s *Sidecar) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *Sidecar) startLocked() error {
	cmd := exec.Command(s.command, s.args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open sidecar stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open sidecar stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start sidecar %q: %w", s.command, err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.stdout = stdout

	slog.Info("classifier sidecar started",
		"command", s.command,
		"pid", cmd.Process.Pid,
	)
	return nil
}

// Stop terminates the model process.
func (s *Sidecar) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		return nil
	}
	s.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		s.cmd.Process.Kill()
		<-done
	}

	s.cmd = nil
	s.stdin = nil
	s.stdout = nil
	slog.Info("classifier sidecar stopped", "command", s.command)
	return nil
}

// Classify implements types.Classifier. If the round trip fails the
// process is torn down and relaunched on the next call; the current
// call reports the error and the worker's decision defaults to off.
func (s *Sidecar) Classify(ctx context.Context, frame *types.Frame, conf float64) ([]types.Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		if err := s.startLocked(); err != nil {
			return nil, err
		}
	}

	resp, err := s.roundTrip(ctx, frame, conf)
	if err != nil {
		// Process state is unknown after a failed exchange; restart
		// lazily rather than risk desynced framing.
		s.teardownLocked()
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("sidecar classification error: %s", resp.Error)
	}

	detections := make([]types.Detection, 0, len(resp.Detections))
	for _, d := range resp.Detections {
		det := types.Detection{Label: d.Label, Score: d.Score}
		if len(d.Box) == 4 {
			det.Box = [4]int{d.Box[0], d.Box[1], d.Box[2], d.Box[3]}
		}
		detections = append(detections, det)
	}
	return detections, nil
}

func (s *Sidecar) roundTrip(ctx context.Context, frame *types.Frame, conf float64) (*sidecarResponse, error) {
	payload, err := msgpack.Marshal(sidecarRequest{
		FrameData:  frame.Data,
		Width:      frame.Width,
		Height:     frame.Height,
		Confidence: conf,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sidecar request: %w", err)
	}

	type result struct {
		resp *sidecarResponse
		err  error
	}
	resCh := make(chan result, 1)

	// The I/O goroutine can outlive this call: on timeout the caller
	// tears the process down, which errors the pending pipe operation
	// and lets the goroutine exit. It must therefore work on captured
	// pipe handles only; the struct fields are nil'd by the teardown.
	stdin, stdout := s.stdin, s.stdout

	go func() {
		prefix := make([]byte, 4)
		binary.BigEndian.PutUint32(prefix, uint32(len(payload)))
		if _, err := stdin.Write(prefix); err != nil {
			resCh <- result{err: fmt.Errorf("failed to write length prefix: %w", err)}
			return
		}
		if _, err := stdin.Write(payload); err != nil {
			resCh <- result{err: fmt.Errorf("failed to write request: %w", err)}
			return
		}

		lengthBuf := make([]byte, 4)
		if _, err := io.ReadFull(stdout, lengthBuf); err != nil {
			resCh <- result{err: fmt.Errorf("failed to read response length: %w", err)}
			return
		}
		msgLen := binary.BigEndian.Uint32(lengthBuf)
		if msgLen > maxResponseBytes {
			resCh <- result{err: fmt.Errorf("sidecar response too large: %d bytes", msgLen)}
			return
		}

		data := make([]byte, msgLen)
		if _, err := io.ReadFull(stdout, data); err != nil {
			resCh <- result{err: fmt.Errorf("failed to read response: %w", err)}
			return
		}

		var resp sidecarResponse
		if err := msgpack.Unmarshal(data, &resp); err != nil {
			resCh <- result{err: fmt.Errorf("failed to unmarshal response: %w", err)}
			return
		}
		resCh <- result{resp: &resp}
	}()

	select {
	case res := <-resCh:
		return res.resp, res.err
	case <-time.After(s.timeout):
		return nil, fmt.Errorf("sidecar call timeout after %s", s.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Sidecar) teardownLocked() {
	if s.cmd == nil {
		return
	}
	s.stdin.Close()
	s.cmd.Process.Kill()
	go s.cmd.Wait()
	s.cmd = nil
	s.stdin = nil
	s.stdout = nil
	slog.Warn("classifier sidecar torn down, will relaunch on next call",
		"command", s.command,
	)
}
