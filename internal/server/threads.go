package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	apierrors "github.com/aimerfeng/docagent/internal/errors"
	"github.com/aimerfeng/docagent/internal/middleware"
	"github.com/aimerfeng/docagent/internal/models"
	"github.com/aimerfeng/docagent/internal/store"
	"github.com/gin-gonic/gin"
)

type threadRequest struct {
	Title string `json:"title"`
}

// threadSummary is a thread without its messages
type threadSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func summarize(t *models.Thread) threadSummary {
	return threadSummary{
		ID:        t.ID.String(),
		Title:     t.Title,
		CreatedAt: t.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt: t.UpdatedAt.UTC().Format(timeLayout),
	}
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func (s *APIServer) handleListThreads(c *gin.Context) {
	threads, err := s.deps.Threads.List(c.Request.Context(), middleware.GetUserIDFromContext(c))
	if err != nil {
		s.internalError(c, err, "list_threads")
		return
	}

	out := make([]threadSummary, 0, len(threads))
	for i := range threads {
		out = append(out, summarize(&threads[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (s *APIServer) handleCreateThread(c *gin.Context) {
	var req threadRequest
	// An empty body creates an untitled thread
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = models.DefaultThreadTitle
	}

	thread, err := s.deps.Threads.Create(c.Request.Context(), middleware.GetUserIDFromContext(c), title)
	if err != nil {
		s.internalError(c, err, "create_thread")
		return
	}
	c.JSON(http.StatusCreated, summarize(thread))
}

func (s *APIServer) handleRenameThread(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		respondError(c, apierrors.ErrThreadNotFoundError)
		return
	}

	var req threadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		respondError(c, apierrors.NewMissingFieldsError("title is required"))
		return
	}

	thread, err := s.deps.Threads.Rename(c.Request.Context(), middleware.GetUserIDFromContext(c), id, title)
	if errors.Is(err, store.ErrNotFound) {
		respondError(c, apierrors.ErrThreadNotFoundError)
		return
	}
	if err != nil {
		s.internalError(c, err, "rename_thread")
		return
	}
	c.JSON(http.StatusOK, summarize(thread))
}

func (s *APIServer) handleDeleteThread(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		respondError(c, apierrors.ErrThreadNotFoundError)
		return
	}

	err := s.deps.Threads.Delete(c.Request.Context(), middleware.GetUserIDFromContext(c), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(c, apierrors.ErrThreadNotFoundError)
		return
	}
	if err != nil {
		s.internalError(c, err, "delete_thread")
		return
	}
	c.Status(http.StatusNoContent)
}

// handleThreadMessages returns the stored conversation of a thread
func (s *APIServer) handleThreadMessages(c *gin.Context) {
	id, ok := pathUUID(c, "threadId")
	if !ok {
		respondError(c, apierrors.ErrThreadNotFoundError)
		return
	}

	thread, err := s.deps.Threads.Get(c.Request.Context(), middleware.GetUserIDFromContext(c), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(c, apierrors.ErrThreadNotFoundError)
		return
	}
	if err != nil {
		s.internalError(c, err, "thread_messages")
		return
	}

	messages := thread.Messages
	if messages == nil {
		messages = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{
		"threadId": thread.ID.String(),
		"title":    thread.Title,
		"messages": messages,
	})
}
