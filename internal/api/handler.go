package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"codebase-qa/internal/config"
	"codebase-qa/internal/helper"
	"codebase-qa/internal/models"
	"codebase-qa/internal/parser"
	"codebase-qa/internal/rag"
)

// Service is the part of rag.RAG the handlers call.
type Service interface {
	Ingest(ctx context.Context, filePath, filename string) (int, error)
	Query(ctx context.Context, question string) (*models.QueryResponse, error)
	ListDocuments(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
	Health(ctx context.Context) string
	CollectionName() string
}

type Handler struct {
	svc            Service
	uploadDir      string
	maxUploadBytes int64
	allowedOrigins []string
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type healthResponse struct {
	Status         string `json:"status"`
	Message        string `json:"message"`
	ChromaDBStatus string `json:"chroma_db_status"`
}

type listResponse struct {
	Status    string   `json:"status"`
	Documents []string `json:"documents"`
}

type queryRequest struct {
	Query string `json:"query"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func NewHandler(svc Service, cfg *config.ServerConfig) *Handler {
	return &Handler{
		svc:            svc,
		uploadDir:      cfg.UploadDir,
		maxUploadBytes: int64(cfg.MaxUploadMB) << 20,
		allowedOrigins: cfg.AllowedOrigins,
	}
}

// Routes registers every endpoint behind the CORS and logging middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.Root)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /upload-document", h.UploadDocument)
	mux.HandleFunc("POST /clear-documents", h.ClearDocuments)
	mux.HandleFunc("GET /list-documents", h.ListDocuments)
	mux.HandleFunc("POST /ask", h.Ask)
	return requestLogger(enableCORS(h.allowedOrigins, mux))
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to Codebase QA Backend API!"})
}

// Health always answers 200; a failing store only shows in chroma_db_status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		Message:        "Backend is healthy and CORS is configured!",
		ChromaDBStatus: h.svc.Health(r.Context()),
	})
}

// UploadDocument saves the multipart "file" under a unique name in the upload
// directory, ingests it and removes the saved copy whatever the outcome.
func (h *Handler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("File exceeds the upload limit of %d bytes.", maxErr.Limit))
		case errors.Is(err, http.ErrMissingFile):
			writeError(w, http.StatusBadRequest, "No file name provided.")
		default:
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid file upload: %v", err))
		}
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if header.Filename == "" || filename == "." || filename == string(filepath.Separator) {
		writeError(w, http.StatusBadRequest, "No file name provided.")
		return
	}

	fileLocation := filepath.Join(h.uploadDir, helper.UniqueFilename(filename))
	defer helper.RemoveFile(fileLocation)

	if err := saveUpload(file, fileLocation); err != nil {
		log.Error().Err(err).Str("file", filename).Msg("Error saving upload")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to upload and process document: %v", err))
		return
	}

	count, err := h.svc.Ingest(detached(r), fileLocation, filename)
	if err != nil {
		log.Error().Err(err).Str("file", filename).Msg("Error processing document")
		if errors.Is(err, parser.ErrUnsupportedFileType) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to process document %s: %v", filename, err))
		return
	}

	message := fmt.Sprintf("Processed %d chunks from %s", count, filename)
	if count == 0 {
		message = fmt.Sprintf("No content to process in %s", filename)
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success", Message: message})
}

func (h *Handler) ClearDocuments(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Clear(detached(r)); err != nil {
		log.Error().Err(err).Msg("Error clearing documents")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to clear documents: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:  "success",
		Message: fmt.Sprintf("All documents cleared from %s.", h.svc.CollectionName()),
	})
}

func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	documents, err := h.svc.ListDocuments(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Error listing documents")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list documents: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Status: "success", Documents: documents})
}

func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	resp, err := h.svc.Query(detached(r), req.Query)
	if err != nil {
		if errors.Is(err, rag.ErrEmptyQuery) {
			writeError(w, http.StatusBadRequest, "Query cannot be empty.")
			return
		}
		log.Error().Err(err).Msg("Error processing query")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to process query: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// detached keeps the request's values but not its cancellation, so embedding
// and LLM work finish even if the client goes away. The LLM timeout is the
// only deadline.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func saveUpload(src io.Reader, path string) error {
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Error writing response")
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}
