package uef

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestEncodeWireShape(t *testing.T) {
	b, err := Encode(PanelRequest{
		CorrelationID: "panel-1",
		PanelType:     "small",
		PanelTitle:    "Tutor",
		Attributes:    PanelAttributes{OnClose: &Callback{CallbackID: "close"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"type":          "portal:panel",
		"correlationId": "panel-1",
		"panelType":     "small",
		"panelTitle":    "Tutor",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}

	b, _ = Encode(Hello{})
	if string(b) != `{"type":"integration:hello"}` {
		t.Fatalf("hello = %s", b)
	}
}

func TestDecode(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"portal:panel:response","correlationId":"c","status":"success","portalId":"p-42"}`))
	if err != nil {
		t.Fatal(err)
	}
	if r, ok := msg.(PanelResponse); !ok || r.PortalID != "p-42" || r.CorrelationID != "c" {
		t.Fatalf("got %#v", msg)
	}

	msg, err = Decode([]byte(`{"type":"route:changed","routeName":"base.courses"}`))
	if err != nil {
		t.Fatal(err)
	}
	if u, ok := msg.(Unknown); !ok || u.Type != "route:changed" {
		t.Fatalf("got %#v", msg)
	}

	for _, in := range []string{``, `[]`, `{}`, `{"type":7}`, `{"type":"event:event","eventType":{}}`} {
		if _, err := Decode([]byte(in)); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%q) err = %v", in, err)
		}
	}
}

func TestAuthorizeAckAccepted(t *testing.T) {
	cases := map[string]bool{
		`{"type":"authorization:authorize"}`:                    true,
		`{"type":"authorization:authorize","ok":true}`:          true,
		`{"type":"authorization:authorize","ok":false}`:         false,
		`{"type":"authorization:authorize","status":"error"}`:   false,
		`{"type":"authorization:authorize","status":"failure"}`: false,
	}
	for in, want := range cases {
		msg, err := Decode([]byte(in))
		if err != nil {
			t.Fatal(err)
		}
		if got := msg.(AuthorizeAck).Accepted(); got != want {
			t.Errorf("%s: accepted = %v", in, got)
		}
	}
}

func TestNormalizeOrigin(t *testing.T) {
	cases := map[string]string{
		"":                                     "",
		"https://learn.example.edu":            "https://learn.example.edu",
		"https://Learn.Example.edu/":           "https://learn.example.edu",
		" https://learn.example.edu/ultra ":    "https://learn.example.edu",
		"https://learn.example.edu:8443/x?y=1": "https://learn.example.edu:8443",
	}
	for in, want := range cases {
		got, err := NormalizeOrigin(in)
		if err != nil || got != want {
			t.Errorf("NormalizeOrigin(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := NormalizeOrigin("learn.example.edu"); err == nil {
		t.Errorf("bare host accepted")
	}
}

func TestWidgetURL(t *testing.T) {
	got := WidgetURL("https://tool.example.com", "/widget-wrapper.html", map[string]string{"courseId": "_12_1", "userId": ""})
	if got != "https://tool.example.com/widget-wrapper.html?courseId=_12_1" {
		t.Fatalf("got %s", got)
	}
	if !strings.HasSuffix(WidgetURL("https://t", "/w", nil), "/w") {
		t.Fatalf("query added with no params")
	}
}
