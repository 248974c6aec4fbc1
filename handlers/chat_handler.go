package handlers

import (
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ggawoos-bot/chat5M/models"
	"github.com/ggawoos-bot/chat5M/repository"
	"github.com/ggawoos-bot/chat5M/service"
)

// ChatHandler handles HTTP requests for the chatbot API
type ChatHandler struct {
	chatService *service.ChatService
	keyring     *service.KeyringService
	chunks      *repository.ChunkRepository
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService *service.ChatService, keyring *service.KeyringService, chunks *repository.ChunkRepository) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		keyring:     keyring,
		chunks:      chunks,
	}
}

// ChatRequest represents the request body for a chat turn
type ChatRequest struct {
	Message string               `json:"message" binding:"required"`
	History []models.ChatMessage `json:"history"`
}

// Chat handles POST /api/chat
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	requestID := uuid.New().String()
	log.Printf("[%s] Chat request: %d chars, %d history turns", requestID, len(req.Message), len(req.History))

	reply := h.chatService.Respond(c.Request.Context(), req.Message, req.History)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"requestId": requestID,
			"reply":     reply,
		},
	})
}

// ChatStream handles POST /api/chat/stream, emitting the reply as SSE deltas
func (h *ChatHandler) ChatStream(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	requestID := uuid.New().String()
	log.Printf("[%s] Streaming chat request: %d chars", requestID, len(req.Message))

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	deltas := h.chatService.RespondStream(c.Request.Context(), req.Message, req.History)

	c.Stream(func(w io.Writer) bool {
		delta, ok := <-deltas
		if !ok {
			c.SSEvent("done", gin.H{"requestId": requestID})
			return false
		}
		c.SSEvent("delta", gin.H{"text": delta})
		return true
	})
}

// RpdStats handles GET /api/rpd
func (h *ChatHandler) RpdStats(c *gin.Context) {
	stats, err := h.keyring.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "STATS_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    stats,
	})
}

// CorpusStatus handles GET /api/corpus
func (h *ChatHandler) CorpusStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"chunkCount": len(h.chunks.Chunks()),
			"metadata":   h.chunks.Metadata(),
		},
	})
}

// ReloadCorpus handles POST /api/corpus/reload
func (h *ChatHandler) ReloadCorpus(c *gin.Context) {
	if err := h.chunks.Reload(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "RELOAD_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"chunkCount": len(h.chunks.Chunks()),
		},
	})
}
