package directory

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"axolotl/internal/domain"
)

// maxBodyBytes caps registration uploads.
const maxBodyBytes = 1 << 20

// registerRequest is the body of a bundle registration.
type registerRequest struct {
	Bundle  domain.PreKeyBundle          `json:"bundle"`
	PreKeys []domain.OneTimePreKeyPublic `json:"pre_keys"`
}

// devicesResponse lists a recipient's registered devices.
type devicesResponse struct {
	Devices []domain.DeviceID `json:"devices"`
}

// Server exposes a Registry over HTTP.
//
//	PUT /v1/keys/{recipient}/{device}   register a bundle and one-time prekeys
//	GET /v1/keys/{recipient}/{device}   fetch a bundle, consuming one prekey
//	GET /v1/keys/{recipient}            list registered devices
type Server struct {
	reg    *Registry
	logger *zap.Logger
}

// NewServer returns a server for reg.
func NewServer(reg *Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{reg: reg, logger: logger.Named("http")}
}

// Handler returns the routed, access-logged handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /v1/keys/{recipient}/{device}", s.register)
	mux.HandleFunc("GET /v1/keys/{recipient}/{device}", s.fetch)
	mux.HandleFunc("GET /v1/keys/{recipient}", s.devices)
	return s.accessLog(mux)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	recipient, device, ok := pathAddress(w, r)
	if !ok {
		return
	}
	var req registerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Bundle.DeviceID != device {
		http.Error(w, "bundle device does not match path", http.StatusBadRequest)
		return
	}
	if err := s.reg.RegisterPreKeyBundle(r.Context(), recipient, req.Bundle, req.PreKeys); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) fetch(w http.ResponseWriter, r *http.Request) {
	recipient, device, ok := pathAddress(w, r)
	if !ok {
		return
	}
	b, err := s.reg.FetchPreKeyBundle(r.Context(), recipient, device)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, b)
}

func (s *Server) devices(w http.ResponseWriter, r *http.Request) {
	ids, err := s.reg.Devices(r.Context(), domain.RecipientID(r.PathValue("recipient")))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, devicesResponse{Devices: ids})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrMalformedBundle), errors.Is(err, domain.ErrUntrustedIdentity):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func pathAddress(w http.ResponseWriter, r *http.Request) (domain.RecipientID, domain.DeviceID, bool) {
	n, err := strconv.ParseUint(r.PathValue("device"), 10, 32)
	if err != nil {
		http.Error(w, "bad device id", http.StatusBadRequest)
		return "", 0, false
	}
	return domain.RecipientID(r.PathValue("recipient")), domain.DeviceID(n), true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// statusRecorder captures the status and size written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", rec.status),
			zap.Int("bytes", rec.bytes),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
