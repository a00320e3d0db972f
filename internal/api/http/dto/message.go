package dto

import (
	"github.com/EternisAI/silo-hub/internal/hub"
	"github.com/EternisAI/silo-hub/internal/models"
)

type SendMessageRequest struct {
	From       string         `json:"from" binding:"required"`
	To         string         `json:"to" binding:"required"`
	Content    string         `json:"content"`
	Type       string         `json:"type"`
	SenderType string         `json:"senderType"`
	ReplyTo    *string        `json:"replyTo"`
	Metadata   map[string]any `json:"metadata"`
}

type MessagesResponse struct {
	Messages []models.Message `json:"messages"`
	Count    int              `json:"count"`
}

type ConnectionsResponse struct {
	Connections []hub.KeySnapshot `json:"connections"`
	Count       int               `json:"count"`
}
