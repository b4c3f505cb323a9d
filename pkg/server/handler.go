package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mikeboe/kresearch/pkg/chat"
	"github.com/mikeboe/kresearch/pkg/history"
	"github.com/mikeboe/kresearch/pkg/research"
)

type Handler struct {
	Service *Service
	// Chat is nil unless sessions are stored in Postgres.
	Chat *chat.Service
	MCP  http.Handler
}

func NewHandler(s *Service, c *chat.Service) *Handler {
	return &Handler{Service: s, Chat: c, MCP: NewMCPHandler(s)}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.Any("/mcp", gin.WrapH(h.MCP))

	api := r.Group("/api")
	{
		api.POST("/clarify", h.clarify)

		api.POST("/research", h.startRun)
		api.GET("/research", h.listSessions)
		api.GET("/research/:id", h.getSession)
		api.DELETE("/research/:id", h.deleteSession)
		api.GET("/research/:id/state", h.getState)
		api.GET("/research/:id/logs", h.getLogs)
		api.POST("/research/:id/resume", h.resumeRun)
		api.POST("/research/:id/cancel", h.cancelRun)
		api.POST("/research/:id/report", h.regenerateReport)

		// Knowledge Q&A
		api.GET("/research/:id/messages", h.getMessages)
		api.POST("/research/:id/ask", h.ask)
	}
}

// statusFor maps control surface errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRunActive), errors.Is(err, ErrRunNotActive), errors.Is(err, research.ErrNotPaused):
		return http.StatusConflict
	case errors.Is(err, ErrBadRequest), errors.Is(err, chat.ErrNothingToAsk):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func (h *Handler) startRun(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.Service.StartRun(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (h *Handler) listSessions(c *gin.Context) {
	items, err := h.Service.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) getSession(c *gin.Context) {
	item, err := h.Service.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) deleteSession(c *gin.Context) {
	if err := h.Service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getState(c *gin.Context) {
	st, err := h.Service.GetState(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) getLogs(c *gin.Context) {
	st, err := h.Service.GetState(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st.Logs)
}

func (h *Handler) resumeRun(c *gin.Context) {
	id := c.Param("id")
	if err := h.Service.ResumeRun(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (h *Handler) cancelRun(c *gin.Context) {
	id := c.Param("id")
	if err := h.Service.CancelRun(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (h *Handler) regenerateReport(c *gin.Context) {
	report, err := h.Service.RegenerateReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"final_report": report})
}

type clarifyRequest struct {
	Query      string `json:"query"`
	Transcript string `json:"transcript,omitempty"`
}

func (h *Handler) clarify(c *gin.Context) {
	var req clarifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := h.Service.Clarify(c.Request.Context(), req.Query, req.Transcript)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) getMessages(c *gin.Context) {
	if h.Chat == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "knowledge Q&A requires the postgres session store"})
		return
	}
	msgs, err := h.Chat.GetMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *Handler) ask(c *gin.Context) {
	if h.Chat == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "knowledge Q&A requires the postgres session store"})
		return
	}

	var req struct {
		Question string `json:"question"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	next, err := h.Chat.Ask(c.Request.Context(), c.Param("id"), req.Question)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	for event, err := range next {
		if err != nil {
			writeEvent(c, chat.StreamEvent{Type: "error", Payload: err.Error()})
			return
		}
		if !writeEvent(c, event) {
			return
		}
	}
}

func writeEvent(c *gin.Context, event chat.StreamEvent) bool {
	data, err := json.Marshal(event)
	if err != nil {
		return false
	}
	_, _ = c.Writer.Write([]byte("data: "))
	_, _ = c.Writer.Write(data)
	_, _ = c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
	return true
}
