package uef

import (
	"net/url"
)

// Node is one element of a portal:render content tree. Children is either a
// string or a []Node.
type Node struct {
	Tag      string         `json:"tag"`
	Props    map[string]any `json:"props,omitempty"`
	Children any            `json:"children,omitempty"`
}

// WidgetFrame is a full-size iframe pointing at src.
func WidgetFrame(src string) Node {
	return Node{
		Tag: "iframe",
		Props: map[string]any{
			"src": src,
			"style": map[string]string{
				"width":      "100%",
				"height":     "100%",
				"border":     "0",
				"background": "transparent",
			},
			"allow":          "clipboard-read; clipboard-write",
			"referrerpolicy": "no-referrer-when-downgrade",
		},
	}
}

// LaunchButton renders a full-width button whose click fires callbackID.
func LaunchButton(label, callbackID string) Node {
	return Node{
		Tag:   "div",
		Props: map[string]any{"className": "uef--course-details--container"},
		Children: []Node{{
			Tag: "button",
			Props: map[string]any{
				"className": "uef--button--course-details",
				"onClick":   Callback{CallbackID: callbackID},
				"style": map[string]string{
					"cursor":  "pointer",
					"padding": "10px",
					"width":   "100%",
				},
			},
			Children: label,
		}},
	}
}

// WidgetURL joins the integration origin and the wrapper path, adding the
// launch context as query parameters when known.
func WidgetURL(integrationOrigin, wrapperPath string, query map[string]string) string {
	u := integrationOrigin + wrapperPath
	q := url.Values{}
	for k, v := range query {
		if v != "" {
			q.Set(k, v)
		}
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}
