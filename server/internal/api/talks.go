package api

import (
	"net/http"
	"strings"

	"skill-sharing/server/internal/model"
	"skill-sharing/server/internal/notify"

	"github.com/gin-gonic/gin"
)

// handleListTalks 处理 GET /talks：带 If-None-Match / Prefer: wait=N 的条件读取。
// Accept: text/event-stream 的请求直接转成 SSE 流。
func (s *Server) handleListTalks(c *gin.Context) {
	if strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		s.handleTalkEvents(c)
		return
	}

	var req notify.PollRequest
	if v, ok := notify.ParseETag(c.GetHeader("If-None-Match")); ok {
		req.Known = &v
	}
	if wait, ok := notify.ParsePreferWait(c.GetHeader("Prefer")); ok {
		if limit := s.config.LongPoll.MaxWait; limit > 0 && wait > limit {
			wait = limit
		}
		req.Wait = wait
	}

	res, err := s.broadcaster.Poll(c.Request.Context(), req)
	if err != nil {
		s.writeServiceError(c, "list talks", err)
		return
	}

	if res.Status == notify.NotModified {
		c.Status(http.StatusNotModified)
		return
	}

	talks := res.Snapshot.Talks
	if talks == nil {
		talks = []model.Talk{}
	}
	c.Header("ETag", notify.FormatETag(res.Snapshot.Version))
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, talks)
}

// handleGetTalk 处理 GET /talks/:title。
func (s *Server) handleGetTalk(c *gin.Context) {
	title := c.Param("title")

	res, err := s.talks.QueryTalks(c.Request.Context(), model.TalksQuery{Title: title})
	if err != nil {
		s.writeServiceError(c, "get talk", err)
		return
	}
	if len(res.Talks) == 0 {
		c.String(http.StatusNotFound, "Talk not found: %q.", title)
		return
	}
	c.JSON(http.StatusOK, res.Talks[0])
}

// submitTalkRequest 用指针区分字段缺失与空字符串。
type submitTalkRequest struct {
	Presenter *string `json:"presenter"`
	Summary   *string `json:"summary"`
}

// handleSubmitTalk 处理 PUT /talks/:title。
func (s *Server) handleSubmitTalk(c *gin.Context) {
	var req submitTalkRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Presenter == nil || req.Summary == nil {
		c.String(http.StatusBadRequest, "Bad submit talk command.")
		return
	}

	_, err := s.talks.SubmitTalk(c.Request.Context(), model.SubmitTalkCommand{
		Title:     c.Param("title"),
		Presenter: *req.Presenter,
		Summary:   *req.Summary,
	})
	if err != nil {
		s.writeServiceError(c, "submit talk", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleDeleteTalk 处理 DELETE /talks/:title；目标不存在也返回 204。
func (s *Server) handleDeleteTalk(c *gin.Context) {
	_, err := s.talks.DeleteTalk(c.Request.Context(), model.DeleteTalkCommand{Title: c.Param("title")})
	if err != nil {
		s.writeServiceError(c, "delete talk", err)
		return
	}
	c.Status(http.StatusNoContent)
}

type addCommentRequest struct {
	Author  *string `json:"author"`
	Message *string `json:"message"`
}

// handleAddComment 处理 POST /talks/:title/comments。
func (s *Server) handleAddComment(c *gin.Context) {
	var req addCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Author == nil || req.Message == nil {
		c.String(http.StatusBadRequest, "Bad add comment command.")
		return
	}

	status, err := s.talks.AddComment(c.Request.Context(), model.AddCommentCommand{
		Title:   c.Param("title"),
		Comment: model.Comment{Author: *req.Author, Message: *req.Message},
	})
	if err != nil {
		s.writeServiceError(c, "add comment", err)
		return
	}
	if !status.IsSuccess {
		c.String(http.StatusNotFound, "%s", status.ErrorMessage)
		return
	}
	c.Status(http.StatusNoContent)
}
