package uef

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const learnOrigin = "https://learn.example.edu"

type postedHello struct {
	data   []byte
	target string
}

type fakeHost struct {
	sent []postedHello
}

func (h *fakeHost) PostMessage(data []byte, target string) error {
	h.sent = append(h.sent, postedHello{data: data, target: target})
	return nil
}

type fakePort struct {
	sent [][]byte
	fail error
}

func (p *fakePort) PostMessage(data []byte) error {
	if p.fail != nil {
		return p.fail
	}
	p.sent = append(p.sent, data)
	return nil
}

func (p *fakePort) messages(t *testing.T) []map[string]any {
	t.Helper()
	out := make([]map[string]any, 0, len(p.sent))
	for _, b := range p.sent {
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("port got invalid json %s: %v", b, err)
		}
		out = append(out, m)
	}
	return out
}

func (p *fakePort) ofType(t *testing.T, typ Type) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, m := range p.messages(t) {
		if m["type"] == string(typ) {
			out = append(out, m)
		}
	}
	return out
}

type fakeTimer struct {
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeScheduler struct {
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(_ time.Duration, f func()) Timer {
	t := &fakeTimer{f: f}
	s.timers = append(s.timers, t)
	return t
}

// fire runs the newest live timer. It reports false when none is armed.
func (s *fakeScheduler) fire() bool {
	for i := len(s.timers) - 1; i >= 0; i-- {
		t := s.timers[i]
		if !t.stopped {
			t.stopped = true
			t.f()
			return true
		}
	}
	return false
}

// countingEvent records whether the payload was read.
type countingEvent struct {
	origin string
	data   []byte
	ports  []Port
	reads  int
}

func (e *countingEvent) Origin() string { return e.origin }
func (e *countingEvent) Data() ([]byte, error) {
	e.reads++
	return e.data, nil
}
func (e *countingEvent) Ports() []Port {
	e.reads++
	return e.ports
}

type harness struct {
	n        *Negotiator
	host     *fakeHost
	sched    *fakeScheduler
	port     *fakePort
	logs     *bytes.Buffer
	statuses []error
}

const testToken = "bearer-SECRET-123"

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{host: &fakeHost{}, sched: &fakeScheduler{}, port: &fakePort{}, logs: &bytes.Buffer{}}
	cfg := Config{
		HostOrigin:   learnOrigin,
		Role:         PanelRole{Title: "NF Chatbot"},
		PanelContent: WidgetFrame("https://tool.example.com/widget-wrapper.html"),
		Scheduler:    h.sched,
		Log:          zerolog.New(h.logs).Level(zerolog.DebugLevel),
		OnStatus: func(_ Phase, err error) {
			if err != nil {
				h.statuses = append(h.statuses, err)
			}
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	n, err := New(cfg, h.host, StaticToken(testToken))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	n.spawn = func(f func()) { f() }
	h.n = n
	return h
}

func hello() []byte { return []byte(`{"type":"integration:hello"}`) }

func (h *harness) handshake(t *testing.T) {
	t.Helper()
	h.n.Start()
	h.n.HandleWindowMessage(RawEvent{From: learnOrigin, Payload: hello(), Transfer: []Port{h.port}})
	if got := h.n.Phase(); got != PhaseAwaitingAuthorization {
		t.Fatalf("phase after hello = %s", got)
	}
	h.n.HandlePortMessage([]byte(`{"type":"authorization:authorize"}`))
	if got := h.n.Phase(); got != PhaseReady {
		t.Fatalf("phase after ack = %s", got)
	}
}

func (h *harness) reported(target error) bool {
	for _, err := range h.statuses {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func TestStartSendsHelloToHostOrigin(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.HostOrigin = learnOrigin + "/ultra/courses" })
	h.n.Start()
	if len(h.host.sent) != 1 {
		t.Fatalf("hello sent %d times", len(h.host.sent))
	}
	if h.host.sent[0].target != learnOrigin {
		t.Fatalf("target = %q", h.host.sent[0].target)
	}
	if !bytes.Contains(h.host.sent[0].data, []byte(`"integration:hello"`)) {
		t.Fatalf("hello = %s", h.host.sent[0].data)
	}
	if h.n.Phase() != PhaseAwaitingChannel {
		t.Fatalf("phase = %s", h.n.Phase())
	}
	h.n.Start()
	if len(h.host.sent) != 1 {
		t.Fatalf("second Start re-sent hello")
	}
}

func TestForeignOriginNotRead(t *testing.T) {
	h := newHarness(t, nil)
	h.n.Start()
	for _, origin := range []string{
		"https://evil.example",
		"https://learn.example.edu.evil.example",
		"https://learn.example.edu:8443",
		"http://learn.example.edu",
		"https://LEARN.example.edu",
		"",
		"null",
	} {
		ev := &countingEvent{origin: origin, data: hello(), ports: []Port{h.port}}
		h.n.HandleWindowMessage(ev)
		if ev.reads != 0 {
			t.Fatalf("origin %q: payload read %d times", origin, ev.reads)
		}
	}
	if h.n.Phase() != PhaseAwaitingChannel {
		t.Fatalf("phase = %s", h.n.Phase())
	}
	if len(h.port.sent) != 0 {
		t.Fatalf("port used after foreign messages: %d", len(h.port.sent))
	}
}

func TestHandshakeAuthorizesAndOpensPanel(t *testing.T) {
	h := newHarness(t, nil)
	h.n.Start()
	h.n.HandleWindowMessage(RawEvent{From: learnOrigin, Payload: hello(), Transfer: []Port{h.port}})

	msgs := h.port.messages(t)
	if len(msgs) != 1 || msgs[0]["type"] != string(TypeAuthorize) || msgs[0]["token"] != testToken {
		t.Fatalf("authorize = %v", msgs)
	}
	if !h.sched.timers[0].stopped {
		t.Fatalf("retry timer still armed after the channel arrived")
	}

	// Panel traffic before the ack is dropped.
	h.n.HandlePortMessage([]byte(`{"type":"portal:panel:response","correlationId":"x","status":"success","portalId":"p"}`))
	if len(h.port.sent) != 1 {
		t.Fatalf("sent before authorization: %v", h.port.messages(t))
	}

	h.n.HandlePortMessage([]byte(`{"type":"authorization:authorize"}`))
	if h.n.Phase() != PhaseReady {
		t.Fatalf("phase = %s", h.n.Phase())
	}
	sub := h.port.ofType(t, TypeSubscribe)
	if len(sub) != 1 {
		t.Fatalf("subscribe = %v", sub)
	}
	panel := h.port.ofType(t, TypePanel)
	if len(panel) != 1 || panel[0]["panelTitle"] != "NF Chatbot" || panel[0]["panelType"] != "small" {
		t.Fatalf("portal:panel = %v", panel)
	}
	onClose := panel[0]["attributes"].(map[string]any)["onClose"].(map[string]any)
	if onClose["callbackId"] != "uef-bridge-panel-close" {
		t.Fatalf("onClose = %v", onClose)
	}

	// A second ack does not re-run the role.
	h.n.HandlePortMessage([]byte(`{"type":"authorization:authorize"}`))
	if len(h.port.ofType(t, TypePanel)) != 1 {
		t.Fatalf("role ran twice")
	}
}

func TestTokenNeverLogged(t *testing.T) {
	h := newHarness(t, nil)
	h.handshake(t)
	if strings.Contains(h.logs.String(), testToken) {
		t.Fatalf("token found in logs:\n%s", h.logs)
	}
	if h.logs.Len() == 0 {
		t.Fatalf("expected some log output")
	}
}

func TestRejectedAuthorization(t *testing.T) {
	h := newHarness(t, nil)
	h.n.Start()
	h.n.HandleWindowMessage(RawEvent{From: learnOrigin, Payload: hello(), Transfer: []Port{h.port}})
	h.n.HandlePortMessage([]byte(`{"type":"authorization:authorize","ok":false}`))
	if h.n.Phase() != PhaseAwaitingAuthorization {
		t.Fatalf("phase = %s", h.n.Phase())
	}
	if !h.reported(ErrAuthorizationDenied) {
		t.Fatalf("denial not reported: %v", h.statuses)
	}
	if len(h.port.ofType(t, TypePanel)) != 0 {
		t.Fatalf("panel opened without authorization")
	}
}

func TestTokenFailureStaysUnauthorized(t *testing.T) {
	h := newHarness(t, nil)
	n, err := New(h.n.cfg, h.host, TokenFunc(func(context.Context) (string, error) {
		return "", errors.New("401 from /uef/access-token")
	}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	n.spawn = func(f func()) { f() }
	n.Start()
	n.HandleWindowMessage(RawEvent{From: learnOrigin, Payload: hello(), Transfer: []Port{h.port}})
	if len(h.port.sent) != 0 {
		t.Fatalf("authorize sent without a token: %v", h.port.messages(t))
	}
	if n.Phase() != PhaseAwaitingAuthorization || len(h.statuses) == 0 {
		t.Fatalf("phase %s statuses %v", n.Phase(), h.statuses)
	}
}

func TestRetryOnceThenUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	h.n.Start()
	if !h.sched.fire() {
		t.Fatalf("no retry armed")
	}
	if len(h.host.sent) != 2 {
		t.Fatalf("hello sent %d times after retry", len(h.host.sent))
	}
	if !h.sched.fire() {
		t.Fatalf("no final timer armed")
	}
	if h.n.Phase() != PhaseUnavailable || !h.reported(ErrChannelUnavailable) {
		t.Fatalf("phase %s statuses %v", h.n.Phase(), h.statuses)
	}
	if h.sched.fire() || len(h.host.sent) != 2 {
		t.Fatalf("retried more than once: %d hellos", len(h.host.sent))
	}

	// A late response still brings the integration up.
	h.n.HandleWindowMessage(RawEvent{From: learnOrigin, Payload: hello(), Transfer: []Port{h.port}})
	if h.n.Phase() != PhaseAwaitingAuthorization {
		t.Fatalf("late hello: phase %s", h.n.Phase())
	}
}

func TestSecondHelloIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.handshake(t)
	before := len(h.port.sent)

	other := &fakePort{}
	h.n.HandleWindowMessage(RawEvent{From: learnOrigin, Payload: hello(), Transfer: []Port{other}})
	if len(other.sent) != 0 {
		t.Fatalf("second channel used: %v", other.messages(t))
	}
	if h.n.Phase() != PhaseReady || len(h.port.sent) != before {
		t.Fatalf("state changed after second hello: %s", h.n.Phase())
	}
	if !strings.Contains(h.logs.String(), "second hello response ignored") {
		t.Fatalf("anomaly not logged")
	}
}

func TestHelloWithoutPort(t *testing.T) {
	h := newHarness(t, nil)
	h.n.Start()
	h.n.HandleWindowMessage(RawEvent{From: learnOrigin, Payload: hello()})
	if h.n.Phase() != PhaseAwaitingChannel {
		t.Fatalf("phase = %s", h.n.Phase())
	}
}

func TestWildcardFallback(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.HostOrigin = ""
		c.AllowedOrigins = []string{learnOrigin}
	})
	h.n.Start()
	if h.host.sent[0].target != Wildcard {
		t.Fatalf("target = %q", h.host.sent[0].target)
	}

	ev := &countingEvent{origin: "https://evil.example", data: hello(), ports: []Port{h.port}}
	h.n.HandleWindowMessage(ev)
	if ev.reads != 0 || h.n.Phase() != PhaseAwaitingChannel {
		t.Fatalf("unlisted origin accepted under wildcard")
	}

	h.n.HandleWindowMessage(RawEvent{From: learnOrigin, Payload: hello(), Transfer: []Port{h.port}})
	if h.n.Phase() != PhaseAwaitingAuthorization {
		t.Fatalf("allowlisted origin rejected: %s", h.n.Phase())
	}
}

func TestWildcardWithoutAllowlistAcceptsNothing(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.HostOrigin = "" })
	h.n.Start()
	ev := &countingEvent{origin: learnOrigin, data: hello(), ports: []Port{h.port}}
	h.n.HandleWindowMessage(ev)
	if ev.reads != 0 || h.n.Phase() != PhaseAwaitingChannel {
		t.Fatalf("message accepted with no known origin")
	}
}

func TestPanicInRoleIsContained(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Role = panickyRole{} })
	h.handshake(t)
	h.n.HandlePortMessage([]byte(`{"type":"event:event","eventType":"portal:new"}`))
	// The lock was released; the negotiator keeps working.
	if h.n.Phase() != PhaseReady {
		t.Fatalf("phase = %s", h.n.Phase())
	}
	if !strings.Contains(h.logs.String(), "handler panicked") {
		t.Fatalf("panic not logged")
	}
}

type panickyRole struct{ PanelRole }

func (panickyRole) OnReady(*Session)        {}
func (panickyRole) OnEvent(*Session, Event) { panic("boom") }

func TestMalformedPortMessage(t *testing.T) {
	h := newHarness(t, nil)
	h.handshake(t)
	h.n.HandlePortMessage([]byte(`not json`))
	h.n.HandlePortMessage([]byte(`{"no":"type"}`))
	h.n.HandlePortMessage([]byte(`{"type":"portal:panel:response","status":12}`))
	if h.n.Phase() != PhaseReady {
		t.Fatalf("phase = %s", h.n.Phase())
	}
}
