package tests

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/EternisAI/silo-hub/internal/api/http/dto"
	"github.com/EternisAI/silo-hub/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessaging(t *testing.T, router *gin.Engine) {
	register := func(name string) string {
		rr := doJSON(router, "POST", "/api/agents", dto.RegisterAgentRequest{Name: name})
		require.Contains(t, []int{http.StatusOK, http.StatusCreated}, rr.Code)
		var agent models.Agent
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &agent))
		return agent.ID
	}
	alice := register("alice")
	bob := register("bob")

	var question models.Message

	t.Run("direct message", func(t *testing.T) {
		rr := doJSON(router, "POST", "/api/messages", dto.SendMessageRequest{
			From:     alice,
			To:       bob,
			Content:  "can you review my PR?",
			Type:     "query",
			Metadata: map[string]any{"pr": float64(42)},
		})
		require.Equal(t, http.StatusCreated, rr.Code)
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &question))
		assert.Equal(t, models.MessageTypeQuery, question.Type)
		assert.Equal(t, float64(42), question.Metadata["pr"])
	})

	t.Run("reply", func(t *testing.T) {
		rr := doJSON(router, "POST", "/api/messages", dto.SendMessageRequest{
			From:    bob,
			To:      alice,
			Content: "on it",
			Type:    "response",
			ReplyTo: &question.ID,
		})
		require.Equal(t, http.StatusCreated, rr.Code)

		missing := "33333333-3333-3333-3333-333333333333"
		rr = doJSON(router, "POST", "/api/messages", dto.SendMessageRequest{From: bob, To: alice, Content: "x", ReplyTo: &missing})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("content cap", func(t *testing.T) {
		rr := doJSON(router, "POST", "/api/messages", dto.SendMessageRequest{
			From:    alice,
			To:      bob,
			Content: strings.Repeat("a", models.MaxContentBytes+1),
		})
		assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	})

	t.Run("broadcast excludes sender", func(t *testing.T) {
		rr := doJSON(router, "POST", "/api/messages", dto.SendMessageRequest{From: alice, To: "broadcast", Content: "lunch?"})
		require.Equal(t, http.StatusCreated, rr.Code)

		var resp dto.MessagesResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Messages)
		for _, m := range resp.Messages {
			assert.NotEqual(t, alice, m.To)
		}
	})

	t.Run("read surface", func(t *testing.T) {
		rr := doJSON(router, "GET", "/api/messages?to="+bob+"&type=query", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var inbox dto.MessagesResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &inbox))
		require.Equal(t, 1, inbox.Count)

		rr = doJSON(router, "POST", "/api/messages/"+question.ID+"/read", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		rr = doJSON(router, "GET", "/api/messages/"+question.ID, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var msg models.Message
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msg))
		assert.True(t, msg.Read)

		rr = doJSON(router, "GET", "/api/conversations/"+alice+"/"+bob, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var conv dto.MessagesResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &conv))
		// question, reply and the broadcast row addressed to bob
		require.Equal(t, 3, conv.Count)
		assert.Equal(t, question.ID, conv.Messages[0].ID)
	})

	t.Run("inbox without since is the newest page", func(t *testing.T) {
		for _, c := range []string{"one", "two", "three"} {
			rr := doJSON(router, "POST", "/api/messages", dto.SendMessageRequest{From: alice, To: bob, Content: c})
			require.Equal(t, http.StatusCreated, rr.Code)
		}

		rr := doJSON(router, "GET", "/api/messages?to="+bob+"&limit=2", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var page dto.MessagesResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
		require.Equal(t, 2, page.Count)
		assert.Equal(t, "two", page.Messages[0].Content)
		assert.Equal(t, "three", page.Messages[1].Content)
	})

	t.Run("escaped content at the cap", func(t *testing.T) {
		rr := doJSON(router, "POST", "/api/messages", dto.SendMessageRequest{
			From:    alice,
			To:      bob,
			Content: strings.Repeat("<", models.MaxContentBytes),
		})
		assert.Equal(t, http.StatusCreated, rr.Code)
	})
}
