// Package surface reads an ESP8266 button controller. The board emits one
// line per press ("button1\n" .. "button3\n"); button 1 ends the session,
// button 2 checks off the next open goal, button 3 asks for a check-in.
package surface

import (
	"bufio"
	"context"
	"log/slog"
	"sync"

	"github.com/pinefield/focusd/internal/bus"
	"github.com/pinefield/focusd/internal/plugin"
	"github.com/pinefield/focusd/internal/plugins/espserial"
)

const defaultBaud = 9600

// Plugin is the hardware control-surface plugin.
type Plugin struct {
	plugin.Base

	port string
	baud int
	dial espserial.Dialer

	mu     sync.Mutex
	conn   espserial.Conn
	bus    *bus.Bus
	logger *slog.Logger
	done   chan struct{}
}

// New builds the plugin. port may be empty for auto-detection.
func New(port string, baud int) *Plugin {
	return NewWithDialer(port, baud, espserial.Open)
}

// NewWithDialer injects the serial dialer for tests.
func NewWithDialer(port string, baud int, dial espserial.Dialer) *Plugin {
	if baud <= 0 {
		baud = defaultBaud
	}
	return &Plugin{port: port, baud: baud, dial: dial}
}

// Initialize connects to the controller and starts the button reader. A
// missing board is not an error; the plugin just stays idle.
func (p *Plugin) Initialize(_ context.Context, host plugin.Host) error {
	p.mu.Lock()
	p.bus = host.Bus
	p.logger = host.Logger.With("plugin", "surface")
	p.mu.Unlock()

	conn, err := p.dial(p.port, p.baud)
	if err != nil {
		p.logger.Info("control surface not connected", "error", err)
		return nil
	}
	done := make(chan struct{})
	p.mu.Lock()
	p.conn = conn
	p.done = done
	p.mu.Unlock()
	go p.readButtons(conn, done)
	p.logger.Info("control surface connected", "port", p.port)
	return nil
}

// Cleanup closes the serial link, which unblocks the reader.
func (p *Plugin) Cleanup() error {
	p.mu.Lock()
	conn, done := p.conn, p.done
	p.conn = nil
	p.done = nil
	p.mu.Unlock()
	if conn == nil {
		return nil
	}
	err := conn.Close()
	if done != nil {
		<-done
	}
	return err
}

func (p *Plugin) readButtons(conn espserial.Conn, done chan struct{}) {
	defer close(done)

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		switch scanner.Text() {
		case "button1":
			p.publish(bus.TopicSessionStopRequest, bus.StopRequestEvent{
				Source: "surface",
				Reason: "hardware button",
			})
		case "button2":
			p.checkNextGoal()
		case "button3":
			p.publish(bus.TopicPluginNotice, bus.NoticeEvent{
				Plugin:  "surface",
				Message: "Check-in requested from the control surface",
			})
		default:
			// Noise on the line; ignore.
		}
	}
	if err := scanner.Err(); err != nil {
		p.logger.Debug("control surface read ended", "error", err)
	}
}

// checkNextGoal marks the first unchecked goal as done.
func (p *Plugin) checkNextGoal() {
	s := p.Session()
	if s == nil {
		return
	}
	done := make(map[string]bool)
	for _, g := range s.CompletedGoals() {
		done[g] = true
	}
	for _, g := range s.AllGoals() {
		if !done[g] {
			s.SetGoalChecked(g, true)
			return
		}
	}
}

func (p *Plugin) publish(topic string, payload any) {
	p.mu.Lock()
	b := p.bus
	p.mu.Unlock()
	if b != nil {
		b.Publish(topic, payload)
	}
}
