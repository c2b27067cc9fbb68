// Package api exposes the HTTP boundary: document upload and lifecycle, chat,
// and the message transcript. Handlers stay thin; all behavior lives in the
// services they call.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/kerryback/book-chat/chat"
	"github.com/kerryback/book-chat/ingestion"
	"github.com/kerryback/book-chat/retrieval"
	"github.com/kerryback/book-chat/store"
)

type Server struct {
	store          store.Store
	pipeline       *ingestion.Service
	chat           *chat.Service
	cache          *retrieval.Cache
	maxUploadBytes int64
	logger         *log.Logger
	handler        http.Handler
}

type errorResponse struct {
	Error string `json:"error"`
}

type chatRequest struct {
	Content string `json:"content"`
	Limit   int    `json:"limit"`
	Section string `json:"section"`
}

func NewServer(st store.Store, pipeline *ingestion.Service, chatSvc *chat.Service, cache *retrieval.Cache, maxUploadBytes int64, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		store:          st,
		pipeline:       pipeline,
		chat:           chatSvc,
		cache:          cache,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/documents", s.handleUpload)
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Delete("/documents/{id}", s.handleDeleteDocument)
		r.Post("/chat", s.handleChat)
		r.Get("/messages", s.handleListMessages)
		r.Delete("/messages", s.handleClearMessages)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUpload accepts a single markdown/Quarto file and schedules it for
// background processing. The response returns before processing completes;
// clients poll the document status.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("parse upload: %w", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("missing file field: %w", err))
		return
	}
	defer file.Close()

	if ingestion.DetectFormat(header.Filename) == ingestion.FormatUnknown {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported file type: %s", header.Filename))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("read upload: %w", err))
		return
	}
	if strings.TrimSpace(string(data)) == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("uploaded file is empty"))
		return
	}

	// Uploading the same filename again replaces the earlier document.
	if existing, err := s.store.GetDocumentByFilename(r.Context(), header.Filename); err == nil {
		s.pipeline.Cancel(existing.ID)
		if err := s.store.DeleteDocument(r.Context(), existing.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusInternalServerError, fmt.Errorf("replace document: %w", err))
			return
		}
		s.cache.Invalidate()
	} else if !errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	doc := &store.Document{
		ID:       uuid.NewString(),
		Filename: header.Filename,
		Content:  string(data),
		Size:     int64(len(data)),
		Status:   store.StatusProcessing,
	}
	if err := s.store.CreateDocument(r.Context(), doc); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("create document: %w", err))
		return
	}

	s.pipeline.Enqueue(doc.ID)
	s.writeJSON(w, http.StatusAccepted, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, fmt.Errorf("document not found"))
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

// handleDeleteDocument cancels any in-flight pipeline for the document before
// removing it, then invalidates the retrieval snapshot so deleted chunks stop
// surfacing immediately.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.pipeline.Cancel(id)
	if err := s.store.DeleteDocument(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, fmt.Errorf("document not found"))
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.cache.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode chat request: %w", err))
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("message content cannot be empty"))
		return
	}

	msg, err := s.chat.Ask(r.Context(), req.Content, chat.Options{
		Limit:   req.Limit,
		Section: req.Section,
	})
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.store.ListMessages(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleClearMessages(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearMessages(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		s.logger.Printf("request failed: %v", err)
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}
