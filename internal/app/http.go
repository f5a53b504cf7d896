package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"shipflow/api/internal/auth"
	"shipflow/api/internal/export"
	"shipflow/api/internal/rbac"
	"shipflow/api/internal/search"
	"shipflow/api/internal/workflow"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		for name, err := range s.service.CheckDependencies(ctx) {
			if err == nil {
				checks[name] = map[string]any{"status": "ok"}
				continue
			}
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "actor": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "actor": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"actor":         session.Actor,
			"roles":         nonNilRoles(session.Roles),
			"permissions":   permissions(session.Roles),
			"expiresAt":     session.ExpiresAt.UTC(),
		})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodDelete && r.URL.Path == "/api/session" {
		if err := s.service.Logout(r.Context(), session); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	parts, err := splitEscapedPath(r.URL.EscapedPath())
	if err != nil || len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "roles":
		s.handleRoles(w, r, session, parts)
		return
	case "shipments":
		s.handleShipments(w, r, session, parts)
		return
	case "search":
		if len(parts) == 2 && r.Method == http.MethodGet {
			s.handleSearch(w, r)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleRoles(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 2 && r.Method == http.MethodPost {
		var body struct {
			Role  string `json:"role"`
			Actor string `json:"actor"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.GrantRole(r.Context(), session, body.Role, body.Actor)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 3 && r.Method == http.MethodGet {
		payload, err := s.service.Roles(r.Context(), parts[2])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 4 && r.Method == http.MethodDelete {
		payload, err := s.service.RevokeRole(r.Context(), session, parts[2], parts[3])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleShipments(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 2 && r.Method == http.MethodGet {
		items, err := s.service.ListShipments(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"shipments": items})
		return
	}

	if len(parts) == 2 && r.Method == http.MethodPost {
		file, err := decodeShipmentBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.CreateShipment(r.Context(), session, file)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"shipment": view})
		return
	}

	if len(parts) < 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	shipmentID := parts[2]

	if len(parts) == 3 && r.Method == http.MethodGet {
		view, err := s.service.GetShipment(r.Context(), shipmentID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"shipment": view})
		return
	}

	if len(parts) == 4 && parts[3] == "history" && r.Method == http.MethodGet {
		limit, ok := queryInt(w, r, "limit", 50)
		if !ok {
			return
		}
		payload, err := s.service.History(r.Context(), shipmentID, limit)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 5 && parts[3] == "history" && r.Method == http.MethodGet {
		view, err := s.service.ShipmentAt(r.Context(), shipmentID, parts[4])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"shipment": view, "revision": parts[4]})
		return
	}

	if len(parts) == 4 && parts[3] == "export" && r.Method == http.MethodGet {
		format, err := export.ParseFormat(strings.TrimSpace(r.URL.Query().Get("format")))
		if err != nil {
			s.fail(w, err)
			return
		}
		result, err := s.service.Export(r.Context(), export.Request{ShipmentID: shipmentID, Format: format})
		if err != nil {
			s.fail(w, err)
			return
		}
		w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
		w.Header().Set("Content-Type", result.MimeType)
		_, _ = w.Write(result.Data)
		return
	}

	if len(parts) >= 5 && parts[3] == "stages" {
		stageIndex, err := strconv.Atoi(parts[4])
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "stage index must be an integer", nil)
			return
		}
		s.handleStage(w, r, session, shipmentID, stageIndex, parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleStage(w http.ResponseWriter, r *http.Request, session Session, shipmentID string, stageIndex int, parts []string) {
	if len(parts) == 5 && r.Method == http.MethodGet {
		view, err := s.service.GetStage(r.Context(), shipmentID, stageIndex)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"stage": view})
		return
	}

	if len(parts) == 6 && parts[5] == "approve" && r.Method == http.MethodPost {
		view, err := s.service.ApproveStage(r.Context(), session, shipmentID, stageIndex)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"shipment": view})
		return
	}

	if len(parts) == 6 && parts[5] == "documents" && r.Method == http.MethodPost {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.UploadDocument(r.Context(), session, shipmentID, stageIndex, body.Name)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"shipment": view})
		return
	}

	if len(parts) == 7 && parts[5] == "documents" {
		name := parts[6]
		switch r.Method {
		case http.MethodPut:
			body := http.MaxBytesReader(w, r.Body, s.service.MaxUploadBytes()+1)
			defer body.Close()
			payload, err := s.service.StoreDocument(r.Context(), session, shipmentID, stageIndex, name, r.Header.Get("Content-Type"), body)
			if err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					writeError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", "Document exceeds the upload limit", nil)
					return
				}
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodGet:
			object, reader, err := s.service.OpenDocument(r.Context(), shipmentID, stageIndex, name)
			if err != nil {
				s.fail(w, err)
				return
			}
			defer reader.Close()
			w.Header().Set("Content-Type", object.ContentType)
			w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": object.Name}))
			if object.Digest != "" {
				w.Header().Set("X-Content-Digest", "blake2b-256="+object.Digest)
			}
			w.WriteHeader(http.StatusOK)
			if _, err := io.Copy(w, reader); err != nil {
				log.Printf("download %s/%d/%s: %v", shipmentID, stageIndex, name, err)
			}
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 20)
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset", 0)
	if !ok {
		return
	}
	filterType := search.ResultType(strings.TrimSpace(r.URL.Query().Get("type")))
	if filterType != "" && filterType != search.ResultShipment && filterType != search.ResultDocument {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be 'shipment' or 'document'", nil)
		return
	}
	payload := s.service.Search(search.Query{
		Text:             strings.TrimSpace(r.URL.Query().Get("q")),
		FilterType:       filterType,
		FilterShipmentID: strings.TrimSpace(r.URL.Query().Get("shipmentId")),
		Limit:            limit,
		Offset:           offset,
	})
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("request failed: %v", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrRevokedToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// decodeShipmentBody reads a shipment template as JSON, or as TOML when
// the request says so.
func decodeShipmentBody(r *http.Request) (workflow.TemplateFile, error) {
	if r.Body == nil {
		return workflow.TemplateFile{}, fmt.Errorf("request body is required")
	}
	defer r.Body.Close()
	name := "shipment.json"
	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil && strings.Contains(mediaType, "toml") {
		name = "shipment.toml"
	}
	file, err := workflow.DecodeTemplateFile(name, r.Body)
	if err != nil {
		return workflow.TemplateFile{}, fmt.Errorf("invalid shipment body: %w", err)
	}
	return file, nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// splitEscapedPath splits before unescaping so identifiers may contain
// encoded slashes.
func splitEscapedPath(path string) ([]string, error) {
	parts := splitPath(path)
	for i, part := range parts {
		unescaped, err := url.PathUnescape(part)
		if err != nil {
			return nil, err
		}
		parts[i] = unescaped
	}
	return parts, nil
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", key+" must be a non-negative integer", nil)
		return 0, false
	}
	return parsed, true
}

// permissions is the coarse role gating the dashboard uses to show or hide
// actions. Stage membership is still enforced per request.
func permissions(roles []rbac.Role) map[string]bool {
	actions := []rbac.Action{rbac.ActionRead, rbac.ActionCreate, rbac.ActionGrant, rbac.ActionUpload, rbac.ActionApprove}
	out := make(map[string]bool, len(actions))
	for _, action := range actions {
		out[string(action)] = rbac.CanAny(roles, action)
	}
	return out
}

func nonNilRoles(roles []rbac.Role) []rbac.Role {
	if roles == nil {
		return []rbac.Role{}
	}
	return roles
}
