package toolkeys

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Handler serves the tool's public JWKS. The payload is fixed at
// construction, so the ETag is stable for the process lifetime.
type Handler struct {
	payload  []byte
	etag     string
	modified time.Time
	maxAge   time.Duration
}

// NewHandler marshals set once. maxAge defaults to 10 minutes.
func NewHandler(set jwk.Set, maxAge time.Duration) (*Handler, error) {
	payload, err := json.Marshal(set)
	if err != nil {
		return nil, err
	}
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	sum := sha256.Sum256(payload)
	return &Handler{
		payload:  payload,
		etag:     `W/"` + base64.RawURLEncoding.EncodeToString(sum[:]) + `"`,
		modified: time.Now().UTC(),
		maxAge:   maxAge,
	}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/jwk-set+json")
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(h.maxAge.Seconds())))
	w.Header().Set("ETag", h.etag)
	w.Header().Set("Last-Modified", h.modified.Format(http.TimeFormat))
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if match := r.Header.Get("If-None-Match"); match != "" && match == h.etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.payload)
}
