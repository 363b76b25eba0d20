package remote

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"famcal/internal/kv"
	appLog "famcal/internal/log"
)

// maxSnapshotBytes caps accepted PUT bodies.
const maxSnapshotBytes = 8 << 20

// Handler is the service side of HTTPClient: a single blob stored under key
// in a kv.Store, addressed as GET/HEAD/PUT /snapshot.
type Handler struct {
	store kv.Store
	key   string
	mux   *http.ServeMux
}

func NewHandler(store kv.Store, key string) *Handler {
	if key == "" {
		key = DefaultBackupKey
	}
	h := &Handler{store: store, key: key, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET "+SnapshotPath, h.handleGet)
	h.mux.HandleFunc("PUT "+SnapshotPath, h.handlePut)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleGet also serves HEAD; net/http drops the body.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	data, err := h.store.Get(r.Context(), h.key)
	if errors.Is(err, kv.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		appLog.Error("snapshot read failed", err, "key", h.key)
		http.Error(w, "snapshot unavailable", http.StatusInternalServerError)
		return
	}

	etag := etagOf(data)
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSnapshotBytes+1))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}
	if len(body) > maxSnapshotBytes {
		http.Error(w, "snapshot too large", http.StatusRequestEntityTooLarge)
		return
	}
	env, err := decodeEnvelope(body)
	if err != nil {
		http.Error(w, "malformed snapshot", http.StatusBadRequest)
		return
	}
	if err := h.store.Set(r.Context(), h.key, body); err != nil {
		appLog.Error("snapshot write failed", err, "key", h.key)
		http.Error(w, "snapshot write failed", http.StatusInternalServerError)
		return
	}

	appLog.Info("snapshot stored", "key", h.key, "count", len(env.Events), "device_id", env.DeviceID)
	w.Header().Set("ETag", etagOf(body))
	w.WriteHeader(http.StatusNoContent)
}

func etagOf(data []byte) string {
	sum := sha256.Sum256(data)
	return `"` + hex.EncodeToString(sum[:8]) + `"`
}
