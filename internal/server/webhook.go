package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Refresher is the subset of *loader.Loader the webhook server needs: a
// way to trigger an immediate out-of-cycle poll.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// WebhookServer receives flag-change notifications and triggers an
// out-of-cycle Loader poll instead of invalidating individual cache
// entries — the Loader always swaps the whole Snapshot atomically, so
// there is nothing finer-grained to invalidate.
type WebhookServer struct {
	refresher Refresher
	port      int
	secret    string
}

// WebhookPayload is the body of an incoming flag-change notification.
type WebhookPayload struct {
	Event     string   `json:"event"`
	FlagKeys  []string `json:"flag_keys"`
	Timestamp string   `json:"timestamp"`
}

func NewWebhookServer(refresher Refresher, port int, secret string) *WebhookServer {
	return &WebhookServer{refresher: refresher, port: port, secret: secret}
}

// Start starts the webhook HTTP server. Blocks until the server stops.
func (w *WebhookServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", w.handleWebhook)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", w.port),
		Handler: mux,
	}
	return server.ListenAndServe()
}

func (w *WebhookServer) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(rw, "Failed to read body", http.StatusBadRequest)
		return
	}

	if w.secret != "" && !w.verifySignature(r, body) {
		http.Error(rw, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}

	switch payload.Event {
	case "flag.updated", "flag.deleted":
		if err := w.refresher.Refresh(r.Context()); err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string]string{"status": "ok"})
}

func (w *WebhookServer) verifySignature(r *http.Request, body []byte) bool {
	signature := r.Header.Get("X-Webhook-Signature")
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(w.secret))
	mac.Write(body)
	expectedSignature := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expectedSignature))
}
