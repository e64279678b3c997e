// ABOUTME: HTTP handlers for the onboarding actions: start, email, name and image upload
// ABOUTME: Validates request bodies at the boundary and forwards them to the router

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/2389/intake-gateway/internal/config"
	"github.com/2389/intake-gateway/internal/session"
)

// Actions is the slice of the router the HTTP surface drives.
type Actions interface {
	Start(sessionID, username, ip string) session.Session
	AddEmail(sessionID, email string) bool
	AddName(sessionID, name string) bool
	UploadImage(sessionID string, img session.Image) bool
	Session(sessionID string) (session.Session, bool)
}

// StartRequest is the JSON request body for POST /api/start.
type StartRequest struct {
	SessionID string `json:"sessionId"`
	Username  string `json:"username"`
}

// EmailRequest is the JSON request body for POST /api/email.
type EmailRequest struct {
	SessionID string `json:"sessionId"`
	Email     string `json:"email"`
}

// NameRequest is the JSON request body for POST /api/name.
type NameRequest struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
}

// OKResponse is returned by every successful action.
type OKResponse struct {
	OK bool `json:"ok"`
}

// maxJSONBodyBytes caps the small JSON action bodies.
const maxJSONBodyBytes = 64 << 10

// multipartOverhead is the room left for headers and the sessionId field
// on top of the image itself.
const multipartOverhead = 64 << 10

var errMissingField = errors.New("missing required field")

// Handler serves the /api routes.
type Handler struct {
	actions       Actions
	cors          config.CORSConfig
	maxImageBytes int64
	logger        *slog.Logger
}

// New creates a Handler.
func New(actions Actions, uploads config.UploadsConfig, cors config.CORSConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	maxImage := uploads.MaxImageBytes
	if maxImage <= 0 {
		maxImage = config.DefaultMaxImageBytes
	}
	return &Handler{
		actions:       actions,
		cors:          cors,
		maxImageBytes: maxImage,
		logger:        logger.With("component", "api"),
	}
}

// RegisterRoutes mounts every action on mux behind the CORS middleware.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/start", h.corsMiddleware(h.handleStart))
	mux.HandleFunc("/api/email", h.corsMiddleware(h.handleEmail))
	mux.HandleFunc("/api/name", h.corsMiddleware(h.handleName))
	mux.HandleFunc("/api/upload", h.corsMiddleware(h.handleUpload))
	mux.HandleFunc("/api/sessions/{id}", h.corsMiddleware(h.handleGetSession))
}

// handleStart handles POST /api/start.
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req StartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := requireFields("sessionId", req.SessionID, "username", req.Username); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.actions.Start(req.SessionID, req.Username, clientIP(r))
	h.sendOK(w)
}

// handleEmail handles POST /api/email.
func (h *Handler) handleEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req EmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := requireFields("sessionId", req.SessionID, "email", req.Email); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.actions.AddEmail(req.SessionID, req.Email)
	h.sendOK(w)
}

// handleName handles POST /api/name.
func (h *Handler) handleName(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req NameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := requireFields("sessionId", req.SessionID, "name", req.Name); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.actions.AddName(req.SessionID, req.Name)
	h.sendOK(w)
}

// handleUpload handles POST /api/upload: a multipart form carrying a
// sessionId field and an image file part.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sessionID, img, err := h.readUpload(w, r)
	if err != nil {
		h.logger.Debug("rejecting upload", "error", err)
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.actions.UploadImage(sessionID, img)
	h.sendOK(w)
}

func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (string, session.Image, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxImageBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxImageBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", session.Image{}, fmt.Errorf("upload exceeds %d bytes", h.maxImageBytes)
		}
		return "", session.Image{}, fmt.Errorf("invalid multipart form: %w", err)
	}
	defer r.MultipartForm.RemoveAll()

	sessionID := r.PostFormValue("sessionId")
	if err := requireFields("sessionId", sessionID); err != nil {
		return "", session.Image{}, err
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return "", session.Image{}, fmt.Errorf("%w: image", errMissingField)
	}
	defer file.Close()

	if header.Size > h.maxImageBytes {
		return "", session.Image{}, fmt.Errorf("image exceeds %d bytes", h.maxImageBytes)
	}

	data, err := io.ReadAll(io.LimitReader(file, h.maxImageBytes+1))
	if err != nil {
		return "", session.Image{}, fmt.Errorf("reading image: %w", err)
	}
	if int64(len(data)) > h.maxImageBytes {
		return "", session.Image{}, fmt.Errorf("image exceeds %d bytes", h.maxImageBytes)
	}

	mediaType := header.Header.Get("Content-Type")
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = http.DetectContentType(data)
	}

	return sessionID, session.Image{Data: data, MediaType: mediaType}, nil
}

// handleGetSession handles GET /api/sessions/{id}.
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	s, ok := h.actions.Session(r.PathValue("id"))
	if !ok {
		h.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s); err != nil {
		h.logger.Error("failed to encode session", "error", err)
	}
}

// corsMiddleware answers preflight requests and stamps CORS headers for
// allowed origins. Requests from other origins are rejected with 403.
func (h *Handler) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if !h.cors.AllowsOrigin(origin) {
				h.sendJSONError(w, http.StatusForbidden, "forbidden: origin not allowed")
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// clientIP returns the first X-Forwarded-For entry, else the host part of
// the remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// decodeJSON parses a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// requireFields takes name/value pairs and fails on the first blank value.
func requireFields(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return fmt.Errorf("%w: %s", errMissingField, pairs[i])
		}
	}
	return nil
}

func (h *Handler) sendOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(OKResponse{OK: true})
}

// sendJSONError writes a JSON error response.
func (h *Handler) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
