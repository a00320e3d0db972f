package dto

import "github.com/EternisAI/silo-hub/internal/models"

type RegisterAgentRequest struct {
	Name        string `json:"name" binding:"required"`
	DisplayName string `json:"displayName"`
	URL         string `json:"url"`
	Status      string `json:"status"`
}

type HeartbeatRequest struct {
	Status string `json:"status"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type AgentsResponse struct {
	Agents []models.Agent `json:"agents"`
	Count  int            `json:"count"`
}
