package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds client settings read from BOARD_CLIENT_* variables.
type Config struct {
	Addr  string `envconfig:"ADDR" default:"localhost:5000"`
	Color bool   `envconfig:"COLOR" default:"true"`
}

// LoadConfig reads the client configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("BOARD_CLIENT", &cfg)
	return cfg, err
}

var errNotConnected = errors.New("not connected, use %connect first")

const (
	dialTimeout = 5 * time.Second
	// quitWait bounds how long %exit waits for the server's OK BYE.
	quitWait = time.Second
)

// Client is the interactive terminal client. One goroutine reads user
// input through Run; a receiver goroutine prints server lines.
type Client struct {
	cfg      Config
	renderer *Renderer
	log      *slog.Logger

	outMu sync.Mutex
	out   io.Writer

	mu       sync.Mutex
	conn     net.Conn
	received sync.WaitGroup
}

// New creates a disconnected client printing to out.
func New(cfg Config, out io.Writer, log *slog.Logger) *Client {
	return &Client{
		cfg:      cfg,
		renderer: NewRenderer(cfg.Color),
		log:      log,
		out:      out,
	}
}

func (c *Client) println(text string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprintln(c.out, text)
}

// Connected reports whether a server connection is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect dials addr, or the configured address when addr is empty, and
// starts printing everything the server sends.
func (c *Client) Connect(addr string) error {
	if addr == "" {
		addr = c.cfg.Addr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return errors.New("already connected")
	}

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	c.conn = conn

	c.received.Add(1)
	go c.receive(conn)

	c.println("Connected to " + addr)
	c.log.Debug("Connected", "addr", addr)
	return nil
}

func (c *Client) receive(conn net.Conn) {
	defer c.received.Done()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			c.println(c.renderer.Render(line))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.log.Debug("Receive failed", "err", err)
			}
			break
		}
	}

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.println("** Disconnected from server **")
	}
	c.mu.Unlock()
	_ = conn.Close()
}

// Send writes one protocol line.
func (c *Client) Send(line string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}

	if _, err := io.WriteString(conn, line+"\n"); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	return nil
}

// Close drops the connection and waits for the receiver to stop.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.received.Wait()
}

func (c *Client) awaitServerClose(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		c.received.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
	}
}

// PrintHelp prints every %command with its usage.
func (c *Client) PrintHelp() {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, name := range commandOrder {
		entry := commands[name]
		b.WriteString("  " + entry.usage)
		if entry.help != "" {
			b.WriteString("  (" + entry.help + ")")
		}
		b.WriteString("\n")
	}
	c.println(b.String())
}

// Run reads commands from in until %exit or end of input.
func (c *Client) Run(in io.Reader) error {
	c.println("Bulletin Board Client")
	c.PrintHelp()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if !c.execute(input) {
			break
		}
	}

	c.Close()
	c.println("Client exiting.")
	return scanner.Err()
}

// execute runs one user command and reports whether to keep reading.
func (c *Client) execute(input string) bool {
	action, err := Translate(input)
	if err != nil {
		c.println(err.Error())
		return true
	}

	switch action.Kind {
	case KindConnect:
		if err := c.Connect(action.Addr); err != nil {
			c.println(err.Error())
		}
	case KindHelp:
		c.PrintHelp()
	case KindExit:
		if c.Connected() {
			if err := c.Send(action.Line); err != nil {
				c.println(err.Error())
			} else {
				c.awaitServerClose(quitWait)
			}
		}
		return false
	default:
		if err := c.Send(action.Line); err != nil {
			c.println(err.Error())
		}
	}
	return true
}
