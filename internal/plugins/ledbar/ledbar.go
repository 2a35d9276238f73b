// Package ledbar drives an ESP8266 LED strip that mirrors session progress.
// The board speaks a two-command line protocol: "progress:<0-100>\n" sets the
// lit fraction and "boxchecked\n" plays the goal-completed animation.
package ledbar

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pinefield/focusd/internal/plugin"
	"github.com/pinefield/focusd/internal/plugins/espserial"
)

const defaultBaud = 115200

// Plugin is the LED progress-bar plugin. A missing or unplugged board is
// never an error; the plugin keeps retrying the connection with backoff as
// session updates arrive.
type Plugin struct {
	plugin.Base

	port string
	baud int
	dial espserial.Dialer

	mu      sync.Mutex
	conn    espserial.Conn
	logger  *slog.Logger
	retry   *backoff.ExponentialBackOff
	retryAt time.Time
}

// New builds the plugin. port may be empty for auto-detection.
func New(port string, baud int) *Plugin {
	return NewWithDialer(port, baud, espserial.Open)
}

// NewWithDialer injects the serial dialer; tests use an in-memory fake.
func NewWithDialer(port string, baud int, dial espserial.Dialer) *Plugin {
	if baud <= 0 {
		baud = defaultBaud
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0 // retry forever
	return &Plugin{port: port, baud: baud, dial: dial, retry: bo}
}

func (p *Plugin) Initialize(_ context.Context, host plugin.Host) error {
	p.mu.Lock()
	p.logger = host.Logger.With("plugin", "ledbar")
	p.mu.Unlock()

	if p.ensureConn() {
		p.send("progress:0\n")
	}
	return nil
}

func (p *Plugin) Cleanup() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		_, _ = p.conn.Write([]byte("progress:0\n"))
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}

func (p *Plugin) SessionUpdated(_ float64, progressPercent float64) error {
	if !p.ensureConn() {
		return nil
	}
	pct := int(progressPercent)
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}
	p.send(fmt.Sprintf("progress:%d\n", pct))
	return nil
}

func (p *Plugin) ChecklistChanged(_ string, checked bool) error {
	if !checked {
		return nil
	}
	if p.ensureConn() {
		p.send("boxchecked\n")
	}
	return nil
}

func (p *Plugin) SessionEnded(plugin.SessionData) error {
	if p.ensureConn() {
		p.send("progress:0\n")
	}
	return nil
}

// ensureConn reports whether a live connection exists, dialing when the
// backoff window allows another attempt.
func (p *Plugin) ensureConn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return true
	}
	if time.Now().Before(p.retryAt) {
		return false
	}
	conn, err := p.dial(p.port, p.baud)
	if err != nil {
		p.retryAt = time.Now().Add(p.retry.NextBackOff())
		if p.logger != nil {
			p.logger.Debug("led bar not connected", "error", err)
		}
		return false
	}
	p.conn = conn
	p.retry.Reset()
	p.retryAt = time.Time{}
	if p.logger != nil {
		p.logger.Info("led bar connected", "port", p.port)
	}
	return true
}

// send writes one command, dropping the connection on write errors so the
// next hook re-dials.
func (p *Plugin) send(cmd string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return
	}
	if _, err := p.conn.Write([]byte(cmd)); err != nil {
		if p.logger != nil {
			p.logger.Warn("led bar write failed", "error", err)
		}
		_ = p.conn.Close()
		p.conn = nil
		p.retryAt = time.Now().Add(p.retry.NextBackOff())
	}
}
