package server

import (
	"errors"
	"net/http"
	"strings"

	apierrors "github.com/aimerfeng/docagent/internal/errors"
	"github.com/aimerfeng/docagent/internal/llm"
	"github.com/gin-gonic/gin"
)

// modelEntry is one row of the model picker
type modelEntry struct {
	ModelKey         string `json:"modelKey"`
	DisplayName      string `json:"displayName"`
	Architecture     string `json:"architecture,omitempty"`
	Quantization     string `json:"quantization,omitempty"`
	MaxContextLength int    `json:"maxContextLength,omitempty"`
	IsLoaded         bool   `json:"isLoaded"`
}

type activeModelRequest struct {
	ModelID string `json:"modelId"`
}

func (s *APIServer) handleListLLMModels(c *gin.Context) {
	s.listModels(c, false, s.deps.Active.Snapshot().ID)
}

func (s *APIServer) handleListEmbeddingModels(c *gin.Context) {
	s.listModels(c, true, s.config.Model.EmbeddingModel)
}

func (s *APIServer) listModels(c *gin.Context, embedding bool, active string) {
	catalog, err := s.deps.Models.ListModels(c.Request.Context())
	if err != nil {
		respondModelError(c, err)
		return
	}

	out := make([]modelEntry, 0, len(catalog))
	for _, m := range catalog {
		if m.IsEmbedding() != embedding {
			continue
		}
		out = append(out, modelEntry{
			ModelKey:         m.ID,
			DisplayName:      displayName(m.ID),
			Architecture:     m.Arch,
			Quantization:     m.Quantization,
			MaxContextLength: m.MaxContextLength,
			IsLoaded:         m.IsLoaded(),
		})
	}

	var activeModel any
	if active != "" {
		activeModel = active
	}
	c.JSON(http.StatusOK, gin.H{
		"models":      out,
		"activeModel": activeModel,
	})
}

// handleSetActiveModel switches the model used by subsequent turns
func (s *APIServer) handleSetActiveModel(c *gin.Context) {
	var req activeModelRequest
	_ = c.ShouldBindJSON(&req)

	modelID := strings.TrimSpace(req.ModelID)
	if modelID == "" {
		respondError(c, apierrors.NewMissingFieldsError("modelId is required"))
		return
	}

	// Unknown IDs are rejected when the catalog is reachable
	catalog, err := s.deps.Models.ListModels(c.Request.Context())
	if err == nil && !offers(catalog, modelID) {
		respondError(c, apierrors.NewUnsupportedModelError(modelID))
		return
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("model", modelID).Msg("Model catalog unavailable, accepting selection")
	}

	snap := s.deps.Active.Set(c.Request.Context(), modelID)
	c.JSON(http.StatusOK, gin.H{
		"activeModel": snap.ID,
		"version":     snap.Version,
	})
}

func offers(catalog []llm.ModelInfo, id string) bool {
	for _, m := range catalog {
		if m.ID == id && !m.IsEmbedding() {
			return true
		}
	}
	return false
}

// displayName drops the publisher prefix of a model key
func displayName(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 && i < len(id)-1 {
		return id[i+1:]
	}
	return id
}

func respondModelError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, llm.ErrUpstreamTimeout):
		respondError(c, apierrors.ErrModelServiceTimeoutError)
	default:
		respondError(c, apierrors.ErrModelServiceUnavailableError)
	}
}
