package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/launchkitd/internal/configstore"
	"github.com/eugenenazirov/launchkitd/internal/configsync"
	"github.com/eugenenazirov/launchkitd/internal/remoteflow"
	"github.com/eugenenazirov/launchkitd/internal/resolver"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

const (
	maxConfigBodyBytes  = 1 << 20
	maxDismissBodyBytes = 4 << 10
	maxHandleWait       = 30 * time.Second
)

// Handler wires the config store, resolver and flow controller into HTTP handlers.
type Handler struct {
	store      *configstore.Store
	resolver   *resolver.Resolver
	controller *remoteflow.Controller
	logger     *zap.Logger
	observer   configsync.Observer

	clock func() time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithHandlerLogger sets the logger used by flow callbacks.
func WithHandlerLogger(logger *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithConfigObserver reports config replaced over the API the same way a
// sync would.
func WithConfigObserver(o configsync.Observer) HandlerOption {
	return func(h *Handler) {
		h.observer = o
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(store *configstore.Store, res *resolver.Resolver, controller *remoteflow.Controller, opts ...HandlerOption) *Handler {
	h := &Handler{
		store:      store,
		resolver:   res,
		controller: controller,
		logger:     zap.NewNop(),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:        "ok",
		Timestamp:     h.clock(),
		ConfigVersion: h.store.Version(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	_ = r
	writeJSON(w, http.StatusOK, snapshotResponse(h.store.Snapshot(), ""))
}

func (h *Handler) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to read request body")
		return
	}

	values, err := configstore.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid config document", err.Error())
		return
	}

	snap, err := h.store.Replace(values)
	if err != nil {
		if errors.Is(err, configstore.ErrEmptyKey) {
			writeError(w, http.StatusBadRequest, "Invalid config document", err.Error())
			return
		}
		writeInternalError(w, err)
		return
	}
	if h.observer != nil {
		h.observer.ConfigSynced(snap.Version(), nil)
	}

	writeJSON(w, http.StatusOK, snapshotResponse(snap, "Config replaced successfully"))
}

func (h *Handler) handleResolveConfig(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	kind := r.URL.Query().Get("type")
	if kind == "" {
		kind = "string"
	}
	rawDefault, hasDefault := r.URL.Query()["default"]
	def := ""
	if hasDefault && len(rawDefault) > 0 {
		def = rawDefault[0]
	}

	resp := resolveResponse{Key: key, Type: kind}
	switch kind {
	case "bool":
		d, err := parseDefault(def, hasDefault, false, strconv.ParseBool)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid default", "default must be a boolean")
			return
		}
		resp.Value = h.resolver.Bool(key, d)
	case "int":
		d, err := parseDefault(def, hasDefault, 0, func(s string) (int64, error) {
			return strconv.ParseInt(s, 10, 64)
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid default", "default must be a 64-bit integer")
			return
		}
		resp.Value = h.resolver.Int(key, d)
	case "double":
		d, err := parseDefault(def, hasDefault, 0, func(s string) (float64, error) {
			return strconv.ParseFloat(s, 64)
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid default", "default must be a number")
			return
		}
		resp.Value = h.resolver.Double(key, d)
	case "string":
		var d *string
		if hasDefault {
			d = &def
		}
		if v := h.resolver.OptionalString(key, d); v != nil {
			resp.Value = *v
		}
	default:
		writeError(w, http.StatusBadRequest, "Invalid type", "type must be one of bool, int, double, string")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLoadFlow(w http.ResponseWriter, r *http.Request) {
	flowID := r.PathValue("flowID")
	logger := h.logger.With(zap.String("flow_id", flowID), zap.String("request_id", requestIDFromContext(r.Context())))

	handle, err := h.controller.Load(flowID,
		func(content *remoteflow.Content, loadErr *remoteflow.LoadError) {
			if loadErr != nil {
				logger.Info("flow load handler: failed", zap.Stringer("kind", loadErr.Kind))
				return
			}
			logger.Info("flow load handler: loaded", zap.Int("version", content.Version))
		},
		func(result remoteflow.FlowResult) {
			logger.Info("flow dismissal handler", zap.Stringer("result", result))
		},
	)
	if err != nil {
		switch {
		case errors.Is(err, remoteflow.ErrAlreadyLoading):
			writeError(w, http.StatusConflict, "Already loading", err.Error(), "wait for the in-flight load to resolve before retrying")
		case errors.Is(err, remoteflow.ErrEmptyFlowID), errors.Is(err, remoteflow.ErrInvalidFlowID):
			writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		default:
			writeInternalError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, handle.Status())
}

func (h *Handler) handleGetHandle(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.controller.Lookup(r.PathValue("handleID"))
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown handle", "no flow handle with that id")
		return
	}

	if raw := r.URL.Query().Get("wait"); raw != "" {
		wait, err := time.ParseDuration(raw)
		if err != nil || wait < 0 {
			writeError(w, http.StatusBadRequest, "Invalid request", "wait must be a non-negative duration")
			return
		}
		if wait > maxHandleWait {
			wait = maxHandleWait
		}
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		_, _ = handle.Wait(ctx)
		cancel()
	}

	writeJSON(w, http.StatusOK, handle.Status())
}

func (h *Handler) handleDismiss(w http.ResponseWriter, r *http.Request) {
	var req dismissRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxDismissBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return
	}
	result, err := remoteflow.ParseFlowResult(strings.TrimSpace(req.Result))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid result", err.Error())
		return
	}

	id := r.PathValue("handleID")
	if err := h.controller.DismissByID(id, result); err != nil {
		switch {
		case errors.Is(err, remoteflow.ErrUnknownHandle):
			writeError(w, http.StatusNotFound, "Unknown handle", err.Error())
		case errors.Is(err, remoteflow.ErrInvalidState):
			writeError(w, http.StatusConflict, "Invalid handle state", err.Error(), "only loaded flows can be dismissed")
		default:
			writeInternalError(w, err)
		}
		return
	}

	handle, ok := h.controller.Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown handle", "no flow handle with that id")
		return
	}
	writeJSON(w, http.StatusOK, handle.Status())
}

func parseDefault[T any](raw string, present bool, zero T, parse func(string) (T, error)) (T, error) {
	if !present {
		return zero, nil
	}
	return parse(raw)
}

func snapshotResponse(snap *configstore.Snapshot, message string) configResponse {
	return configResponse{
		Version:   snap.Version(),
		UpdatedAt: snap.UpdatedAt(),
		Values:    snap.Values(),
		Message:   message,
	}
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type dismissRequest struct {
	Result string `json:"result"`
}

type configResponse struct {
	Version   uint64                       `json:"version"`
	UpdatedAt time.Time                    `json:"updatedAt"`
	Values    map[string]configstore.Value `json:"values"`
	Message   string                       `json:"message,omitempty"`
}

type resolveResponse struct {
	Key   string `json:"key"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

type healthResponse struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	ConfigVersion uint64    `json:"configVersion"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
