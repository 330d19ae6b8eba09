package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"

	"github.com/Tyrowin/chatroom/internal/chat"
	"github.com/Tyrowin/chatroom/internal/server"
)

func main() {
	var (
		serverURL  = flag.String("server", "ws://localhost:8080/ws", "websocket server URL")
		origin     = flag.String("origin", "http://localhost:8080", "Origin header sent on the handshake")
		credential = flag.String("credential", "", "identity credential (ID token, or a display name with the insecure provider)")
		logLevel   = flag.String("log-level", "INFO", "log level")
		timeout    = flag.Duration("timeout", 10*time.Second, "connection timeout")
	)
	flag.Parse()

	if strings.TrimSpace(*credential) == "" {
		fmt.Fprintln(os.Stderr, "--credential is required")
		os.Exit(2)
	}

	logger := logs.GetLoggerFromString(*logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := websocket.Dialer{HandshakeTimeout: *timeout}
	header := http.Header{}
	header.Set("Origin", *origin)
	conn, _, err := d.DialContext(ctx, *serverURL, header)
	if err != nil {
		logger.Error("dial failed", "url", *serverURL, "err", err)
		os.Exit(1)
	}
	defer conn.Close()

	client := newWSClient(conn, os.Stdout, logger)

	if err := client.login(strings.TrimSpace(*credential)); err != nil {
		logger.Error("login failed", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go client.readLoop(ctx, cancel)
	go client.inputLoop(ctx, os.Stdin)

	<-ctx.Done()
	logger.Info("shutting down client")
}

type wsConn interface {
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	Close() error
}

type wsClient struct {
	conn         wsConn
	out          io.Writer
	self         atomic.Pointer[chat.Identity]
	logger       *slog.Logger
	isCloseError func(error) bool
}

func newWSClient(conn wsConn, out io.Writer, logger *slog.Logger) *wsClient {
	if logger == nil {
		logger = slog.Default()
	}
	client := &wsClient{
		conn:   conn,
		out:    out,
		logger: logger,
	}
	client.isCloseError = func(err error) bool {
		return websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure)
	}
	return client
}

func (c *wsClient) login(credential string) error {
	env := server.Envelope{Type: server.TypeSubmitCredential, Credential: credential}
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("send credential: %w", err)
	}
	c.logger.Debug("sent credential")
	return nil
}

func (c *wsClient) readLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var env server.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if c.isCloseError != nil && c.isCloseError(err) {
				c.logger.Info("server closed connection", "reason", err)
			} else {
				c.logger.Error("read error", "err", err)
			}
			return
		}

		c.handleEnvelope(env)
	}
}

func (c *wsClient) handleEnvelope(env server.Envelope) {
	switch env.Type {
	case server.TypeLoginSucceeded:
		if env.Identity == nil {
			c.logger.Warn("login-succeeded envelope missing identity")
			return
		}
		c.self.Store(env.Identity)
		fmt.Fprintln(c.out, color.New(color.FgGreen, color.OpBold).Render("[system] logged in as "+env.Identity.Name))
	case server.TypeLoginFailed:
		fmt.Fprintln(c.out, color.New(color.FgRed).Render("[system] login failed: "+env.Reason))
	case server.TypeHistorySnapshot:
		c.renderHistory(env.Messages)
	case server.TypeMessageBroadcast:
		if env.Message == nil {
			c.logger.Warn("message-broadcast envelope missing message")
			return
		}
		c.renderMessage(*env.Message)
	case server.TypePresenceNotice:
		fmt.Fprintln(c.out, color.New(color.FgYellow).Render("[presence] "+env.Notice))
	case server.TypeMessageRejected, server.TypeError:
		fmt.Fprintln(c.out, color.New(color.FgRed).Render("[error] "+env.Reason))
	default:
		fmt.Fprintf(c.out, "[unknown] %+v\n", env)
	}
}

func (c *wsClient) renderMessage(message chat.Message) {
	sender := message.Author.Name
	if self := c.self.Load(); self != nil && self.ConnectionID != "" && self.ConnectionID == message.Author.ConnectionID {
		sender = "you"
	}
	ts := message.Timestamp.Local().Format(time.Kitchen)
	fmt.Fprintf(c.out, "%s %s\n", color.New(color.FgCyan).Render("["+sender+"]["+ts+"]"), message.Text)
}

// renderHistory prints the snapshot as a table, oldest first.
func (c *wsClient) renderHistory(messages []chat.Message) {
	if len(messages) == 0 {
		fmt.Fprintln(c.out, "[history] no earlier messages")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.SetHeader([]string{"Time", "Author", "Message"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	for _, m := range messages {
		table.Append([]string{m.Timestamp.Local().Format(time.Kitchen), m.Author.Name, m.Text})
	}
	table.Render()
}

func (c *wsClient) inputLoop(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(c.out, "Type messages and press Enter to send. Ctrl+C to exit.")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				fmt.Fprintf(os.Stderr, "input error: %v\n", err)
			}
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := c.sendMessage(line); err != nil {
			if errors.Is(err, errNotLoggedIn) {
				fmt.Fprintf(c.out, "not logged in yet, message not sent: %q\n", line)
				continue
			}
			fmt.Fprintf(os.Stderr, "send error: %v\n", err)
			return
		}
	}
}

var errNotLoggedIn = errors.New("not logged in yet")

func (c *wsClient) sendMessage(text string) error {
	if c.self.Load() == nil {
		return errNotLoggedIn
	}

	env := server.Envelope{Type: server.TypeSendMessage, Text: text}
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}
