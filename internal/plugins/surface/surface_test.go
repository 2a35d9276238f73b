package surface

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pinefield/focusd/internal/bus"
	"github.com/pinefield/focusd/internal/plugin"
	"github.com/pinefield/focusd/internal/plugins/espserial"
)

// pipeConn feeds scripted button lines to the reader goroutine.
type pipeConn struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newPipeConn() *pipeConn {
	r, w := io.Pipe()
	return &pipeConn{r: r, w: w}
}

func (c *pipeConn) Read(b []byte) (int, error) { return c.r.Read(b) }

func (c *pipeConn) Write(b []byte) (int, error) { return len(b), nil }

func (c *pipeConn) Close() error { return c.r.Close() }

func (c *pipeConn) press(line string) {
	_, _ = c.w.Write([]byte(line + "\n"))
}

type fakeSession struct {
	mu      sync.Mutex
	goals   []string
	checked map[string]bool
}

func (f *fakeSession) ChecklistProgress() float64 { return 0 }

func (f *fakeSession) AllGoals() []string { return f.goals }

func (f *fakeSession) CompletedGoals() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, g := range f.goals {
		if f.checked[g] {
			out = append(out, g)
		}
	}
	return out
}

func (f *fakeSession) SetGoalChecked(item string, checked bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checked == nil {
		f.checked = map[string]bool{}
	}
	f.checked[item] = checked
	return true
}

func (f *fakeSession) AddGoal(string) bool { return false }

func newRunning(t *testing.T) (*Plugin, *pipeConn, *bus.Bus) {
	t.Helper()
	conn := newPipeConn()
	b := bus.New()
	p := NewWithDialer("", 0, func(string, int) (espserial.Conn, error) { return conn, nil })
	host := plugin.Host{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Bus:    b,
	}
	if err := p.Initialize(context.Background(), host); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = p.Cleanup() })
	return p, conn, b
}

func TestButton1RequestsStop(t *testing.T) {
	_, conn, b := newRunning(t)
	sub := b.Subscribe(bus.TopicSessionStopRequest)
	defer b.Unsubscribe(sub)

	conn.press("button1")

	select {
	case event := <-sub.Ch():
		req := event.Payload.(bus.StopRequestEvent)
		if req.Source != "surface" {
			t.Fatalf("source = %q", req.Source)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no stop request")
	}
}

func TestButton2ChecksNextOpenGoal(t *testing.T) {
	p, conn, _ := newRunning(t)
	session := &fakeSession{
		goals:   []string{"write report", "review PR"},
		checked: map[string]bool{"write report": true},
	}
	p.SetSession(session)

	conn.press("button2")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		session.mu.Lock()
		done := session.checked["review PR"]
		session.mu.Unlock()
		if done {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("next open goal never checked")
}

func TestButton3AsksForCheckin(t *testing.T) {
	_, conn, b := newRunning(t)
	sub := b.Subscribe(bus.TopicPluginNotice)
	defer b.Unsubscribe(sub)

	conn.press("button3")

	select {
	case event := <-sub.Ch():
		notice := event.Payload.(bus.NoticeEvent)
		if notice.Plugin != "surface" {
			t.Fatalf("plugin = %q", notice.Plugin)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notice")
	}
}

func TestNoiseLinesIgnored(t *testing.T) {
	_, conn, b := newRunning(t)
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	conn.press("garbage")
	conn.press("button9")

	select {
	case event := <-sub.Ch():
		t.Fatalf("unexpected event: %+v", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCleanupStopsReader(t *testing.T) {
	p, _, _ := newRunning(t)
	finished := make(chan error, 1)
	go func() { finished <- p.Cleanup() }()

	select {
	case err := <-finished:
		if err != nil {
			t.Fatalf("Cleanup: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Cleanup hung waiting for reader")
	}
	// Second cleanup is a no-op.
	if err := p.Cleanup(); err != nil {
		t.Fatalf("second Cleanup: %v", err)
	}
}

func TestInitializeWithoutDeviceStaysIdle(t *testing.T) {
	p := NewWithDialer("", 0, func(string, int) (espserial.Conn, error) {
		return nil, espserial.ErrNotFound
	})
	host := plugin.Host{Logger: slog.New(slog.NewTextHandler(io.Discard, nil)), Bus: bus.New()}
	if err := p.Initialize(context.Background(), host); err != nil {
		t.Fatalf("Initialize without device: %v", err)
	}
	if err := p.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
}
