package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"marketplace-chat/internal/middleware"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func userNameFromContext(c *gin.Context) *string {
	if userName := middleware.UserName(c); userName != "" {
		return &userName
	}
	if header := c.GetHeader("X-User-Name"); header != "" {
		return &header
	}
	return nil
}
