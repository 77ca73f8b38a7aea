package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/aimerfeng/docagent/internal/agent"
	apierrors "github.com/aimerfeng/docagent/internal/errors"
	"github.com/aimerfeng/docagent/internal/middleware"
	"github.com/aimerfeng/docagent/internal/stream"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type chatRequest struct {
	ThreadID string `json:"threadId"`
	Message  string `json:"message"`
}

// handleChat runs one agent turn and streams its events
func (s *APIServer) handleChat(c *gin.Context) {
	requestID := middleware.GetRequestIDFromContext(c)
	userID := middleware.GetUserIDFromContext(c)

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}
	if req.ThreadID == "" || strings.TrimSpace(req.Message) == "" {
		respondError(c, apierrors.NewMissingFieldsError("threadId and message are required"))
		return
	}

	threadID, err := uuid.Parse(req.ThreadID)
	if err != nil {
		respondError(c, apierrors.ErrThreadNotFoundError)
		return
	}

	thread, err := s.deps.Chat.LoadThread(c.Request.Context(), userID, threadID)
	if errors.Is(err, agent.ErrThreadNotFound) {
		respondError(c, apierrors.ErrThreadNotFoundError)
		return
	}
	if err != nil {
		s.internalError(c, err, "load_thread")
		return
	}

	// From here on the response is a stream and errors travel as events
	format := stream.NegotiateFormat(c.GetHeader("Accept"))
	stream.SetupHeaders(c.Writer, format, requestID)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()

	em := stream.NewEmitter(c.Writer, format)
	defer em.Close()

	ctx := c.Request.Context()
	stop := context.AfterFunc(ctx, em.Disconnect)
	defer stop()

	summary := s.deps.Chat.RunTurn(ctx, thread, agent.TurnRequest{
		RequestID: requestID,
		UserID:    userID,
		ThreadID:  threadID,
		Message:   req.Message,
	}, em)

	s.logger.Debug().
		Str("request_id", requestID).
		Str("thread_id", threadID.String()).
		Str("status", summary.Status).
		Bool("persisted", summary.Persisted).
		Msg("Chat stream finished")
}
