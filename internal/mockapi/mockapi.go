// Package mockapi simulates the Messages API over net/http. It backs the
// client tests and the mock/anthropic command, so both exercise the real
// wire format (JSON bodies, SSE frames and error envelopes) without
// credentials.
package mockapi

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nulpointcorp/anthropic-go/pkg/apierr"
	"github.com/nulpointcorp/anthropic-go/pkg/messages"
)

// DefaultModel is reported when a request names no model.
const DefaultModel = "claude-sonnet-4-5"

// Config holds the simulated server behaviour.
type Config struct {
	// Latency is added before every response.
	Latency time.Duration

	// ErrorRate is the fraction [0,1] of requests answered with a 529
	// overloaded_error.
	ErrorRate float64

	// Words is the length of generated replies.
	Words int

	// Fragment is the delta size passed to EventsFor for streamed replies.
	Fragment int

	// APIKey, when set, must match the x-api-key header.
	APIKey string

	// Respond overrides reply generation. It receives the decoded request.
	Respond func(messages.Request) messages.Response
}

// Handler is an http.Handler serving POST /v1/messages.
type Handler struct {
	cfg      Config
	mux      *http.ServeMux
	requests atomic.Int64
}

// New returns a Handler for cfg.
func New(cfg Config) *Handler {
	if cfg.Words <= 0 {
		cfg.Words = 10
	}
	if cfg.Fragment <= 0 {
		cfg.Fragment = 8
	}

	h := &Handler{cfg: cfg, mux: http.NewServeMux()}
	h.mux.HandleFunc("/v1/messages", h.messages)
	h.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, apierr.TypeNotFound, fmt.Sprintf("mock: unknown path %s", r.URL.Path))
	})
	return h
}

// Requests returns the number of /v1/messages requests served.
func (h *Handler) Requests() int64 { return h.requests.Load() }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) messages(w http.ResponseWriter, r *http.Request) {
	h.requests.Add(1)

	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, apierr.TypeInvalidRequest, "method not allowed")
		return
	}
	if r.Header.Get("anthropic-version") == "" {
		WriteError(w, http.StatusBadRequest, apierr.TypeInvalidRequest, "anthropic-version header is required")
		return
	}
	if key := r.Header.Get("x-api-key"); key == "" || (h.cfg.APIKey != "" && key != h.cfg.APIKey) {
		WriteError(w, http.StatusUnauthorized, apierr.TypeAuthentication, "invalid x-api-key")
		return
	}

	if h.cfg.Latency > 0 {
		time.Sleep(h.cfg.Latency)
	}
	if h.cfg.ErrorRate > 0 && rand.Float64() < h.cfg.ErrorRate {
		WriteError(w, apierr.StatusOverloaded, apierr.TypeOverloaded, "Overloaded")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, apierr.TypeInvalidRequest, "unreadable body")
		return
	}
	var req messages.Request
	if err := json.Unmarshal(body, &req); err != nil {
		msg := err.Error()
		if e, ok := apierr.As(err); ok {
			msg = e.Message
		}
		WriteError(w, http.StatusBadRequest, apierr.TypeInvalidRequest, msg)
		return
	}

	resp := h.reply(req)

	if req.Stream() {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		WriteEvents(w, EventsFor(resp, h.cfg.Fragment))
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) reply(req messages.Request) messages.Response {
	if h.cfg.Respond != nil {
		return h.cfg.Respond(req)
	}

	model := req.Model()
	if model == "" {
		model = DefaultModel
	}
	return messages.Response{
		ID:         fmt.Sprintf("msg_%x", rand.Int64()),
		Type:       "message",
		Role:       messages.RoleAssistant,
		Model:      model,
		Content:    []messages.ContentBlock{messages.Text(FakeSentence(h.cfg.Words))},
		StopReason: messages.StopEndTurn,
		Usage:      messages.Usage{InputTokens: 15, OutputTokens: h.cfg.Words},
	}
}

// WriteEvents encodes events as SSE frames, flushing after each one.
func WriteEvents(w http.ResponseWriter, events []messages.StreamEvent) {
	flusher, _ := w.(http.Flusher)
	for _, ev := range events {
		name, data, err := messages.EncodeEvent(ev)
		if err != nil {
			return
		}
		WriteFrame(w, name, string(data))
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// WriteFrame writes one raw SSE frame. Tests use it to inject malformed or
// unknown frames.
func WriteFrame(w io.Writer, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

// WriteError writes an API error envelope.
func WriteError(w http.ResponseWriter, status int, typ, msg string) {
	writeJSON(w, status, map[string]any{
		"type": "error",
		"error": map[string]string{
			"type":    typ,
			"message": msg,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var fakeWords = []string{
	"The", "quick", "brown", "fox", "jumps", "over", "the", "lazy", "dog",
	"Hello", "world", "This", "is", "a", "mock", "response", "from", "the",
	"simulated", "Messages", "API", "for", "development", "and", "testing",
}

// FakeSentence returns a reply of n random words.
func FakeSentence(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fakeWords[rand.IntN(len(fakeWords))]
	}
	return strings.Join(words, " ") + "."
}
