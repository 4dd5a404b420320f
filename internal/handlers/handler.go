package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/gigchat/internal/realtime"
	"github.com/eldtechnologies/gigchat/internal/store"
)

// maxContentBytes caps a single message body.
const maxContentBytes = 4096

// Options carries the dependencies of Handler.
type Options struct {
	Store          store.DataStore
	Redis          *store.RedisStore // optional
	Hub            *realtime.Hub
	Fanout         *realtime.Channel
	Binder         *realtime.Binder
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store    store.DataStore
	redis    *store.RedisStore
	hub      *realtime.Hub
	fanout   *realtime.Channel
	binder   *realtime.Binder
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(opts Options) *Handler {
	h := &Handler{
		store:  opts.Store,
		redis:  opts.Redis,
		hub:    opts.Hub,
		fanout: opts.Fanout,
		binder: opts.Binder,
		logger: opts.Logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// sanitizeContent trims content and removes control characters other than
// newlines and tabs.
func sanitizeContent(content string) string {
	content = strings.TrimSpace(content)

	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, content)
}

// parseUserID parses a positive user id.
func parseUserID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// originChecker allows every origin when the list is empty or contains "*".
func originChecker(allowed []string) func(r *http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			allowed = nil
			break
		}
	}
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}
