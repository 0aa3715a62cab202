package uef

import (
	"errors"
	"testing"
)

// openPanel runs the handshake with a role that does nothing on its own and
// opens one panel, returning its correlation id.
func openPanel(t *testing.T, h *harness) string {
	t.Helper()
	h.handshake(t)
	id, err := h.n.OpenPanel("Tutor")
	if err != nil {
		t.Fatalf("open panel: %v", err)
	}
	return id
}

func quietHarness(t *testing.T) *harness {
	return newHarness(t, func(c *Config) {
		c.Role = CourseButtonRole{Title: "Tutor", Label: "Ask", Selector: CourseDetailsSelector, ClickToken: "click"}
	})
}

func panelResponse(id, status, portal string) []byte {
	b, _ := Encode(rawOutbound{
		"type": string(TypePanelResponse), "correlationId": id, "status": status, "portalId": portal,
	})
	return b
}

// rawOutbound lets tests play the host side.
type rawOutbound map[string]string

func (m rawOutbound) MessageType() Type { return Type(m["type"]) }

func TestPanelSuccessRendersExactlyOnce(t *testing.T) {
	h := quietHarness(t)
	id := openPanel(t, h)

	h.n.HandlePortMessage(panelResponse(id, StatusSuccess, "p-42"))
	h.n.HandlePortMessage(panelResponse(id, StatusSuccess, "p-42"))

	renders := h.port.ofType(t, TypeRender)
	if len(renders) != 1 {
		t.Fatalf("renders = %d, want 1", len(renders))
	}
	if renders[0]["portalId"] != "p-42" {
		t.Fatalf("render portal = %v", renders[0]["portalId"])
	}
	contents := renders[0]["contents"].(map[string]any)
	if contents["tag"] != "iframe" {
		t.Fatalf("contents = %v", contents)
	}
	if h.n.PanelID() != "p-42" {
		t.Fatalf("panel id = %q", h.n.PanelID())
	}
	if h.n.session.Pending() != "" {
		t.Fatalf("pending not cleared")
	}
}

func TestPanelFailureRendersNothing(t *testing.T) {
	h := quietHarness(t)
	id := openPanel(t, h)

	h.n.HandlePortMessage(panelResponse(id, StatusFailure, ""))
	if n := len(h.port.ofType(t, TypeRender)); n != 0 {
		t.Fatalf("renders = %d, want 0", n)
	}
	if h.n.session.Pending() != "" || h.n.PanelID() != "" {
		t.Fatalf("pending %q panel %q", h.n.session.Pending(), h.n.PanelID())
	}
	if !h.reported(ErrPanelCreationFailed) {
		t.Fatalf("failure not reported: %v", h.statuses)
	}

	// Retryable.
	if _, err := h.n.OpenPanel("Tutor"); err != nil {
		t.Fatalf("retry open: %v", err)
	}
}

func TestSuccessWithoutPortalIDIsFailure(t *testing.T) {
	h := quietHarness(t)
	id := openPanel(t, h)
	h.n.HandlePortMessage(panelResponse(id, StatusSuccess, ""))
	if n := len(h.port.ofType(t, TypeRender)); n != 0 {
		t.Fatalf("renders = %d", n)
	}
	if !h.reported(ErrPanelCreationFailed) {
		t.Fatalf("failure not reported")
	}
}

func TestUnmatchedCorrelationIgnored(t *testing.T) {
	h := quietHarness(t)
	id := openPanel(t, h)
	h.n.HandlePortMessage(panelResponse("someone-else", StatusSuccess, "p-1"))
	if n := len(h.port.ofType(t, TypeRender)); n != 0 {
		t.Fatalf("rendered for a foreign correlation id")
	}
	if h.n.session.Pending() != id {
		t.Fatalf("pending = %q, want %q", h.n.session.Pending(), id)
	}
}

func TestOnlyOnePendingPanel(t *testing.T) {
	h := quietHarness(t)
	openPanel(t, h)
	if _, err := h.n.OpenPanel("again"); !errors.Is(err, ErrPanelPending) {
		t.Fatalf("got %v, want ErrPanelPending", err)
	}
	if n := len(h.port.ofType(t, TypePanel)); n != 1 {
		t.Fatalf("panel requests = %d", n)
	}
}

func TestOpenPanelBeforeReady(t *testing.T) {
	h := quietHarness(t)
	if _, err := h.n.OpenPanel("x"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("got %v, want ErrNotReady", err)
	}
	h.n.Start()
	h.n.HandleWindowMessage(RawEvent{From: learnOrigin, Payload: hello(), Transfer: []Port{h.port}})
	if _, err := h.n.OpenPanel("x"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("before ack: got %v, want ErrNotReady", err)
	}
}

func TestPanelCloseIsIdempotent(t *testing.T) {
	h := quietHarness(t)
	id := openPanel(t, h)
	h.n.HandlePortMessage(panelResponse(id, StatusSuccess, "p-7"))

	closeMsg := []byte(`{"type":"portal:callback","callbackId":"uef-bridge-panel-close"}`)
	h.n.HandlePortMessage(closeMsg)
	h.n.HandlePortMessage(closeMsg)
	if h.n.PanelID() != "" {
		t.Fatalf("panel id = %q after close", h.n.PanelID())
	}

	// Direct calls with no panel, or an unknown token, are no-ops as well.
	h.n.session.OnPanelClosed("")
	h.n.session.OnPanelClosed("never-issued")
	if h.n.PanelID() != "" {
		t.Fatalf("panel id = %q", h.n.PanelID())
	}
}

func TestSendFailureIsReturned(t *testing.T) {
	h := quietHarness(t)
	h.handshake(t)
	h.port.fail = errors.New("port closed")
	if _, err := h.n.OpenPanel("x"); err == nil {
		t.Fatalf("expected send error")
	}
	if h.n.session.Pending() != "" {
		t.Fatalf("pending set although the request never left")
	}
}
