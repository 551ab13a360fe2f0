package board_test

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/gobulletin/internal/board"
	"github.com/stretchr/testify/require"
)

var (
	fixedTime      = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	fixedTimestamp = "2026-01-02T03:04:05Z"
	defaultGroups  = []string{"lobby", "games", "cs", "random", "music"}
	errBrokenPipe  = errors.New("write: broken pipe")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock() time.Time {
	return fixedTime
}

var _ board.Conn = (*fakeConn)(nil)

// fakeConn is an in-memory board.Conn. Lines pushed with send are returned
// by ReadLine; lines written by the board are queued on out.
type fakeConn struct {
	in        chan string
	out       chan string
	done      chan struct{}
	closeOnce sync.Once
	inOnce    sync.Once

	mu         sync.Mutex
	failWrites bool
	closed     bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:   make(chan string, 64),
		out:  make(chan string, 1024),
		done: make(chan struct{}),
	}
}

func (c *fakeConn) ReadLine() (string, error) {
	select {
	case line, ok := <-c.in:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-c.done:
		return "", io.EOF
	}
}

func (c *fakeConn) WriteLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites || c.closed {
		return errBrokenPipe
	}
	c.out <- line
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) setFailWrites(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWrites = fail
}

// send feeds one inbound line.
func (c *fakeConn) send(line string) {
	c.in <- line
}

// hangUp simulates the peer closing its side.
func (c *fakeConn) hangUp() {
	c.inOnce.Do(func() { close(c.in) })
}

// drain returns every line written so far without waiting.
func (c *fakeConn) drain() []string {
	var lines []string
	for {
		select {
		case line := <-c.out:
			lines = append(lines, line)
		default:
			return lines
		}
	}
}

func (c *fakeConn) next(t *testing.T) string {
	t.Helper()
	select {
	case line := <-c.out:
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a line")
		return ""
	}
}

func (c *fakeConn) expect(t *testing.T, want string) {
	t.Helper()
	require.Equal(t, want, c.next(t))
}

func (c *fakeConn) expectNothing(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case line := <-c.out:
		t.Fatalf("expected no line, got %q", line)
	case <-time.After(wait):
	}
}
