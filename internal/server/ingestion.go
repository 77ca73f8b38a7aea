package server

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	apierrors "github.com/aimerfeng/docagent/internal/errors"
	"github.com/aimerfeng/docagent/internal/ingestion"
	"github.com/aimerfeng/docagent/internal/middleware"
	"github.com/aimerfeng/docagent/internal/models"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
)

// multipartSlack covers boundaries and part headers around the file itself
const multipartSlack = 1 << 20

// handleUpload accepts one multipart file and schedules its ingestion
func (s *APIServer) handleUpload(c *gin.Context) {
	limit := s.config.Ingestion.MaxUploadBytes
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartSlack)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, apierrors.ErrFileTooLargeError)
			return
		}
		respondError(c, apierrors.ErrNoFileError)
		return
	}
	if fh.Size > limit {
		respondError(c, apierrors.ErrFileTooLargeError)
		return
	}

	f, err := fh.Open()
	if err != nil {
		s.internalError(c, err, "open_upload")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		s.internalError(c, err, "read_upload")
		return
	}

	result, err := s.deps.Documents.Upload(c.Request.Context(), middleware.GetUserIDFromContext(c), ingestion.FileHeader{
		Filename: filepath.Base(fh.Filename),
		MimeType: detectMimeType(fh.Header.Get("Content-Type"), data),
		Data:     data,
	})
	if err != nil {
		s.logger.Error().Err(err).
			Str("request_id", middleware.GetRequestIDFromContext(c)).
			Str("filename", fh.Filename).
			Msg("Upload failed")
		respondError(c, apierrors.NewStorageError(err.Error()))
		return
	}

	if result.Duplicate {
		c.JSON(http.StatusOK, gin.H{
			"duplicate": true,
			"document":  result.Document,
		})
		return
	}
	c.JSON(http.StatusCreated, result.Document)
}

// detectMimeType trusts the declared type unless it is missing or generic
func detectMimeType(declared string, data []byte) string {
	declared = strings.TrimSpace(strings.Split(declared, ";")[0])
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	detected := mimetype.Detect(data).String()
	return strings.TrimSpace(strings.Split(detected, ";")[0])
}

func (s *APIServer) handleListDocuments(c *gin.Context) {
	docs, err := s.deps.Documents.List(c.Request.Context(), middleware.GetUserIDFromContext(c))
	if err != nil {
		s.internalError(c, err, "list_documents")
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	c.JSON(http.StatusOK, docs)
}

func (s *APIServer) handleDeleteDocument(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		respondError(c, apierrors.ErrDocumentNotFoundError)
		return
	}

	err := s.deps.Documents.Delete(c.Request.Context(), middleware.GetUserIDFromContext(c), id)
	if errors.Is(err, ingestion.ErrNotFound) {
		respondError(c, apierrors.ErrDocumentNotFoundError)
		return
	}
	if err != nil {
		s.internalError(c, err, "delete_document")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
