package handlers

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"marketplace-chat/internal/middleware"
	"marketplace-chat/internal/models"
	"marketplace-chat/internal/service"
	"marketplace-chat/internal/telemetry"
)

// ChatService is the chat core used by the HTTP surface.
type ChatService interface {
	Send(ctx context.Context, in service.SendInput) (models.Message, error)
	MarkSeen(ctx context.Context, owner, counterpart string) (int, error)
	GetMessages(ctx context.Context, owner, counterpart string) ([]models.Message, error)
	ListSessions(ctx context.Context, owner string) ([]models.SessionSummary, error)
}

// FileStore persists uploaded attachments and returns their reference.
type FileStore interface {
	Save(ctx context.Context, owner string, header *multipart.FileHeader) (string, error)
	Remove(ctx context.Context, ref string) error
}

// ChatHandler manages private chat endpoints.
type ChatHandler struct {
	chats  ChatService
	files  FileStore
	audit  *telemetry.AuditEmitter
	logger *zap.Logger
}

// NewChatHandler builds a ChatHandler. files and audit may be nil.
func NewChatHandler(chats ChatService, files FileStore, audit *telemetry.AuditEmitter, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{
		chats:  chats,
		files:  files,
		audit:  audit,
		logger: logger,
	}
}

type sendMessageRequest struct {
	ReceiverUserName string  `json:"receiverUserName" form:"receiverUserName"`
	Content          *string `json:"content" form:"content"`
}

// SendMessage stores a message from the caller to the receiver. It accepts a
// JSON body or a multipart form with an optional "file" part.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	sender := middleware.UserName(c)

	var req sendMessageRequest
	var fileRef *string
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		header, err := c.FormFile("file")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file"})
			return
		default:
			if err := service.ValidateParticipants(sender, req.ReceiverUserName); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if h.files == nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attachments are disabled"})
				return
			}
			ref, err := h.files.Save(c.Request.Context(), sender, header)
			if err != nil {
				h.logger.Error("attachment save failed", zap.String("sender", sender), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store file"})
				return
			}
			fileRef = &ref
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.chats.Send(c.Request.Context(), service.SendInput{
		Sender:   sender,
		Receiver: req.ReceiverUserName,
		Content:  req.Content,
		File:     fileRef,
	})
	if err != nil {
		var partial *service.PartialWriteError
		if fileRef != nil && !errors.As(err, &partial) {
			h.discardUpload(c.Request.Context(), *fileRef)
		}
		switch {
		case service.IsValidation(err):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.As(err, &partial):
			h.emitAudit(c, "ERROR", "message "+partial.MessageID+" stored only for sender")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "message could not be delivered to receiver", "messageId": partial.MessageID})
		default:
			h.logger.Error("send message failed", zap.String("sender", sender), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not send message"})
		}
		return
	}

	h.emitAudit(c, "INFO", "message "+msg.ID+" sent to "+req.ReceiverUserName)
	c.JSON(http.StatusCreated, msg)
}

// MarkSeen marks every message of the caller's session with the counterpart as seen.
func (h *ChatHandler) MarkSeen(c *gin.Context) {
	owner, ok := h.ownerParam(c)
	if !ok {
		return
	}
	counterpart := c.Param("counterpart")

	updated, err := h.chats.MarkSeen(c.Request.Context(), owner, counterpart)
	if err != nil {
		h.writeLookupError(c, err, "could not mark messages as seen")
		return
	}

	h.emitAudit(c, "INFO", "session with "+counterpart+" marked seen")
	c.JSON(http.StatusOK, gin.H{"message": "all messages marked as seen", "updated": updated})
}

// GetMessages returns the caller's copy of the session with the counterpart.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	owner, ok := h.ownerParam(c)
	if !ok {
		return
	}

	msgs, err := h.chats.GetMessages(c.Request.Context(), owner, c.Param("counterpart"))
	if err != nil {
		h.writeLookupError(c, err, "failed to load messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// ListSessions returns a summary of every session of the caller.
func (h *ChatHandler) ListSessions(c *gin.Context) {
	sessions, err := h.chats.ListSessions(c.Request.Context(), middleware.UserName(c))
	if err != nil && !service.IsNotFound(err) {
		h.logger.Error("list sessions failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chats"})
		return
	}
	if sessions == nil {
		sessions = []models.SessionSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"chats": sessions})
}

// discardUpload removes an attachment whose message was never stored.
func (h *ChatHandler) discardUpload(ctx context.Context, ref string) {
	if err := h.files.Remove(context.WithoutCancel(ctx), ref); err != nil {
		h.logger.Warn("orphaned attachment not removed", zap.String("ref", ref), zap.Error(err))
	}
}

func (h *ChatHandler) ownerParam(c *gin.Context) (string, bool) {
	owner := c.Param("userName")
	if owner != middleware.UserName(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot access another user's chats"})
		return "", false
	}
	return owner, true
}

func (h *ChatHandler) writeLookupError(c *gin.Context, err error, msg string) {
	if service.IsNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	}
	h.logger.Error(msg, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

func (h *ChatHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userNameFromContext(c))
}
