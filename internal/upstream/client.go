package upstream

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/EchoPBX/echofsm/internal/config"
	"github.com/EchoPBX/echofsm/internal/feed"
	"github.com/EchoPBX/echofsm/pkg/sdk"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// frame is what the upstream feed sends, one JSON object per message.
type frame struct {
	Source  string         `json:"source"`
	Payload map[string]any `json:"payload"`
}

// Client reads events from an upstream websocket feed and republishes them on
// the bus. In fake mode it publishes a synthetic post on a timer instead.
type Client struct {
	log  *zap.Logger
	bus  sdk.Bus
	tick time.Duration

	mu   sync.Mutex
	cfg  *config.Config
	conn *websocket.Conn
}

func NewClient(cfg *config.Config, log *zap.Logger, bus sdk.Bus) *Client {
	return &Client{cfg: cfg, log: log, bus: bus, tick: 2 * time.Second}
}

func (c *Client) settings() (url string, insecure, fake bool, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u := c.cfg.Upstream
	return u.URL, u.Insecure, u.Fake, u.Source
}

// Run blocks until ctx is done, redialing after connection loss. Settings
// are read again before every dial, so Reload takes effect on the next one.
func (c *Client) Run(ctx context.Context) {
	for {
		url, insecure, fake, source := c.settings()
		if fake {
			c.runFake(ctx, source)
			return
		}
		if url == "" {
			c.log.Info("upstream disabled")
			return
		}

		d := websocket.Dialer{TLSClientConfig: &tls.Config{InsecureSkipVerify: insecure}}
		conn, _, err := d.DialContext(ctx, url, http.Header{"User-Agent": {"echofsm"}})
		if err != nil {
			c.log.Warn("upstream dial failed", zap.String("url", url), zap.Error(err))
			if !sleep(ctx, 2*time.Second) {
				return
			}
			continue
		}
		c.setConn(conn)
		c.log.Info("upstream connected", zap.String("url", url))

		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		if err := c.read(conn, source); err != nil && ctx.Err() == nil {
			c.log.Warn("upstream read", zap.Error(err))
		}
		stop()
		_ = conn.Close()
		c.setConn(nil)
		if !sleep(ctx, time.Second) {
			return
		}
	}
}

func (c *Client) read(conn *websocket.Conn, fallbackSource string) error {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		if f.Source == "" {
			f.Source = fallbackSource
		}
		report := c.bus.Publish(sdk.NewEvent(f.Source, f.Payload))
		if err := report.Err(); err != nil {
			c.log.Debug("upstream event partially delivered", zap.Error(err))
		}
	}
}

func (c *Client) runFake(ctx context.Context, source string) {
	author := feed.NewAuthor(source, c.bus)
	t := time.NewTicker(c.tick)
	defer t.Stop()
	n := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n++
			if _, err := author.CreatePost(fmt.Sprintf("https://example.invalid/%d.png", n), fmt.Sprintf("post #%d", n)); err != nil {
				c.log.Warn("fake post", zap.Error(err))
			}
		}
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// Reload swaps the config. The current connection is kept; the next dial
// uses cfg.
func (c *Client) Reload(cfg *config.Config) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
