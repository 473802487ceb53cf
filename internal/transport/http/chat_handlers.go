package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/proto"
	"github.com/vovakirdan/wirechat-relay/internal/store"
)

// ChatHandlers serves read-only views over the message store.
type ChatHandlers struct {
	store        store.Store
	historyLimit int
	log          *zerolog.Logger
}

// NewChatHandlers creates a new chat handlers instance.
func NewChatHandlers(st store.Store, historyLimit int, logger *zerolog.Logger) *ChatHandlers {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &ChatHandlers{
		store:        st,
		historyLimit: historyLimit,
		log:          logger,
	}
}

// ChatCountResponse is the body of GET /api/chat/count.
type ChatCountResponse struct {
	TotalChats int64 `json:"totalChats"`
}

// UserCountResponse is the body of GET /api/chat/users/count.
type UserCountResponse struct {
	TotalUsers int64 `json:"totalUsers"`
}

// HistoryQuery holds the query parameters of GET /api/chat/history.
type HistoryQuery struct {
	Room    string `form:"room" binding:"max=64"`
	Limit   int    `form:"limit" binding:"omitempty,min=1,max=500"`
	AfterID int64  `form:"after_id" binding:"omitempty,min=0"`
}

// CountChats returns the number of persisted messages.
// GET /api/chat/count
func (h *ChatHandlers) CountChats(c *gin.Context) {
	n, err := h.store.CountMessages(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to count messages")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "store unavailable"})
		return
	}
	c.JSON(http.StatusOK, ChatCountResponse{TotalChats: n})
}

// CountUsers returns the number of users, guests included.
// GET /api/chat/users/count
func (h *ChatHandlers) CountUsers(c *gin.Context) {
	n, err := h.store.CountUsers(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to count users")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "store unavailable"})
		return
	}
	c.JSON(http.StatusOK, UserCountResponse{TotalUsers: n})
}

// History returns stored messages oldest first. An empty room selects every room.
// GET /api/chat/history?room=&limit=&after_id=
func (h *ChatHandlers) History(c *gin.Context) {
	var q HistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid query"})
		return
	}
	if q.Limit == 0 {
		q.Limit = h.historyLimit
	}

	msgs, err := h.store.ListMessages(c.Request.Context(), store.HistoryQuery{
		Room:    strings.TrimSpace(q.Room),
		AfterID: q.AfterID,
		Limit:   q.Limit,
	})
	if err != nil {
		h.log.Error().Err(err).Str("room", q.Room).Msg("failed to list messages")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "store unavailable"})
		return
	}

	out := make([]proto.NewMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, proto.NewMessage{
			ID:          m.ID,
			Author:      proto.Author{ID: m.AuthorID, Name: m.AuthorName},
			Body:        m.Body,
			Room:        m.Room,
			CreatedAt:   m.CreatedAt,
			ClientMsgID: m.ClientMsgID,
		})
	}
	c.JSON(http.StatusOK, out)
}
