package split

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/snapsplit/internal/allocation"
	"github.com/zombor/snapsplit/internal/scanning"
)

// maxUploadSize bounds receipt uploads; phone photos can be large
const maxUploadSize = int64(50 << 20)

const (
	msgTooLarge      = "File is too large. Maximum size is 50MB. Please compress or resize your image."
	msgNoItems       = "We couldn't find any items in that receipt. Please try a clearer photo."
	msgUnauthorized  = "API key invalid or restricted. Check your Google AI Studio API key permissions."
	msgTimeout       = "The receipt took too long to analyze. Please try again."
	msgScanFailed    = "Something went wrong analyzing the receipt. Please try again."
	msgUnsupported   = "Unsupported file type. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF."
	msgNotFound      = "Session not found. Please start over."
	msgInvalidBody   = "Invalid request body"
	msgInternalError = "Internal server error"
)

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// sessionResponse is returned by edits that change the breakdown
type sessionResponse struct {
	Session *Session           `json:"session"`
	Summary allocation.Summary `json:"summary"`
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, message string, code int, retryable bool) {
	writeJSON(w, code, errorResponse{Error: message, Retryable: retryable})
}

// writeSessionError maps session lookup and edit failures to responses
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		writeError(w, msgNotFound, http.StatusNotFound, false)
	case errors.Is(err, ErrUnknownItem), errors.Is(err, ErrUnknownParticipant):
		writeError(w, err.Error(), http.StatusBadRequest, false)
	case errors.Is(err, ErrInvalidParticipant):
		writeError(w, err.Error(), http.StatusBadRequest, false)
	default:
		slog.Error("Session operation failed", "error", err)
		writeError(w, msgInternalError, http.StatusInternalServerError, true)
	}
}

// writeExtractionError maps scanning failures to user-facing, retryable messages
func writeExtractionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNoItemsFound):
		writeError(w, msgNoItems, http.StatusUnprocessableEntity, true)
	case errors.Is(err, scanning.ErrUnauthorized):
		writeError(w, msgUnauthorized, http.StatusBadGateway, true)
	case errors.Is(err, scanning.ErrTimeout):
		writeError(w, msgTimeout, http.StatusGatewayTimeout, true)
	case errors.Is(err, scanning.ErrUnsupportedImage):
		writeError(w, msgUnsupported, http.StatusUnsupportedMediaType, false)
	default:
		writeError(w, msgScanFailed, http.StatusBadGateway, true)
	}
}

// detectContentType falls back to the file extension when the part has no
// Content-Type header
func detectContentType(header string, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(header))
	if contentType != "" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleUploadReceipt extracts items from an uploaded receipt and starts a session
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, msgTooLarge, http.StatusRequestEntityTooLarge, false)
			return
		}
		writeError(w, "Error parsing form", http.StatusBadRequest, false)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeError(w, "No file was selected. Please choose a file to upload.", http.StatusBadRequest, false)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError, true)
		return
	}

	contentType := detectContentType(header.Header.Get("Content-Type"), header.Filename)

	session, err := s.service.StartSession(r.Context(), header.Filename, data, contentType)
	if err != nil {
		writeExtractionError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// handleCreateManualSession starts a session from items typed in by the user
func (s *Server) handleCreateManualSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []allocation.Item `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, msgInvalidBody, http.StatusBadRequest, false)
		return
	}

	session, err := s.service.CreateSession(req.Items)
	if err != nil {
		if errors.Is(err, ErrNoItemsFound) {
			writeError(w, "At least one item is required", http.StatusBadRequest, false)
			return
		}
		writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// handleGetSession returns a single session
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.service.GetSession(r.PathValue("id"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// handleDeleteSession discards a session
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteSession(r.PathValue("id")); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, msgInvalidBody, http.StatusBadRequest, false)
		return
	}

	participant, err := s.service.AddParticipant(r.PathValue("id"), req.Name)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, participant)
}

func (s *Server) handleToggleAssignment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID        string `json:"item_id"`
		ParticipantID string `json:"participant_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, msgInvalidBody, http.StatusBadRequest, false)
		return
	}

	session, err := s.service.ToggleAssignment(r.PathValue("id"), req.ItemID, req.ParticipantID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: session, Summary: s.service.summarize(session)})
}

func (s *Server) handleSetExtras(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tax decimal.Decimal `json:"tax"`
		Tip decimal.Decimal `json:"tip"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, msgInvalidBody, http.StatusBadRequest, false)
		return
	}

	session, err := s.service.SetExtras(r.PathValue("id"), req.Tax, req.Tip)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: session, Summary: s.service.summarize(session)})
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.Summary(r.PathValue("id"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleShareText returns the breakdown as a plain text message
func (s *Server) handleShareText(w http.ResponseWriter, r *http.Request) {
	text, err := s.service.ShareText(r.PathValue("id"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, text)
}

// handleBreakdown computes a breakdown for the posted data without a session
func (s *Server) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items        []allocation.Item        `json:"items"`
		Participants []allocation.Participant `json:"participants"`
		Allocation   allocation.Allocation    `json:"allocation"`
		Tax          decimal.Decimal          `json:"tax"`
		Tip          decimal.Decimal          `json:"tip"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, msgInvalidBody, http.StatusBadRequest, false)
		return
	}

	writeJSON(w, http.StatusOK, s.service.Calculate(req.Items, req.Participants, req.Allocation, req.Tax, req.Tip))
}
