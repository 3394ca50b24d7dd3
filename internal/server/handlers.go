package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rcliao/ryos-memory/internal/logging"
	"github.com/rcliao/ryos-memory/internal/model"
	"github.com/rcliao/ryos-memory/internal/pipeline"
)

type processRequest struct {
	TimeZone string `json:"timeZone"`
}

type processResponse struct {
	*model.PipelineResult
	Message string `json:"message"`
}

func (s *Server) processDailyNotes(c *gin.Context) {
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	// A run outlives a client that stops waiting; in-flight model calls are
	// never aborted.
	ctx := context.WithoutCancel(c.Request.Context())
	result, err := s.deps.Processor.Process(ctx, c.GetString(usernameKey), req.TimeZone)
	if errors.Is(err, pipeline.ErrInvalidTimeZone) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid time zone"})
		return
	}
	if err != nil {
		logging.From(ctx).Error("failed to process daily notes", logging.ErrAttr(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process daily notes"})
		return
	}

	c.JSON(http.StatusOK, processResponse{PipelineResult: result, Message: resultMessage(result)})
}

func resultMessage(r *model.PipelineResult) string {
	if r.Locked {
		return "Daily notes are already being processed"
	}
	if r.Processed == 0 && len(r.SkippedDates) == 0 {
		return "No unprocessed daily notes"
	}

	msg := fmt.Sprintf("Processed %d day(s): %d memories created, %d updated", r.Processed, r.Created, r.Updated)
	if n := len(r.SkippedDates); n > 0 {
		msg += fmt.Sprintf("; %d day(s) deferred to the next run", n)
	}
	return msg
}

type appendNoteRequest struct {
	Content  string `json:"content"`
	TimeZone string `json:"timeZone"`
	// Timestamp is epoch milliseconds; zero means now.
	Timestamp int64 `json:"timestamp"`
}

func (s *Server) appendNote(c *gin.Context) {
	var req appendNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Content is required"})
		return
	}
	loc, err := pipeline.LoadLocation(req.TimeZone)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid time zone"})
		return
	}

	at := s.deps.Now()
	if req.Timestamp > 0 {
		at = time.UnixMilli(req.Timestamp)
	}

	ctx := c.Request.Context()
	username := c.GetString(usernameKey)
	logger := logging.From(ctx).With("user_id", username)

	date, err := s.deps.Notes.AppendNote(ctx, username, req.Content, at, loc)
	if err != nil {
		logger.Error("failed to append note", logging.ErrAttr(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save note"})
		return
	}

	// A note on a new day is the natural moment to consolidate earlier days.
	processing := false
	if s.deps.Submitter != nil {
		pending, err := s.deps.Notes.ListUnprocessedDays(ctx, username, s.deps.LookbackDays, loc)
		if err != nil {
			logger.Warn("failed to check for unprocessed days", logging.ErrAttr(err))
		} else if len(pending) > 0 {
			processing = s.deps.Submitter.Submit(ctx, username, req.TimeZone)
		}
	}

	c.JSON(http.StatusCreated, gin.H{"date": date, "processing": processing})
}
