package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"persona-runtime/internal/domain"
	"persona-runtime/internal/service"
)

// TurnProcessor es lo que el handler necesita del orquestador.
type TurnProcessor interface {
	Process(ctx context.Context, turn domain.Turn) domain.ProcessingResult
}

var _ TurnProcessor = (*service.Pipeline)(nil)

// ChatHandler traduce requests de adaptadores de plataforma a turnos.
type ChatHandler struct {
	pipeline TurnProcessor
	logger   *zap.Logger
}

func NewChatHandler(pipeline TurnProcessor, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{pipeline: pipeline, logger: logger}
}

type chatRequest struct {
	UserID      string              `json:"user_id" binding:"required"`
	CharacterID string              `json:"character_id" binding:"required"`
	Platform    string              `json:"platform"`
	ChannelType string              `json:"channel_type"`
	Content     string              `json:"content" binding:"required"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
}

// HandleChat procesa un turno completo de forma sincrónica y devuelve el
// ProcessingResult serializado.
func (h *ChatHandler) HandleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	channel := domain.ChannelDirect
	if req.ChannelType == string(domain.ChannelGroup) {
		channel = domain.ChannelGroup
	}

	turn := domain.Turn{
		UserID:      req.UserID,
		CharacterID: req.CharacterID,
		Platform:    req.Platform,
		ChannelType: channel,
		Content:     req.Content,
		Attachments: req.Attachments,
		ReceivedAt:  time.Now().UTC(),
	}

	result := h.pipeline.Process(c.Request.Context(), turn)
	c.JSON(http.StatusOK, result)
}
