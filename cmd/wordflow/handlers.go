package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/flowkit/dataflow"
	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/server"
	"github.com/kbukum/flowkit/validation"
	"github.com/kbukum/flowkit/wordflow"
)

// maxTextRunes bounds the text of a single request.
const maxTextRunes = 1 << 16

type textRequest struct {
	Text string `json:"text" binding:"required"`
}

type executeResponse struct {
	TraceID string `json:"trace_id"`
	Odd     bool   `json:"odd"`
}

type handlers struct {
	stats   *wordStats
	fanout  wordflow.FanoutOptions
	retry   dataflow.RetryPolicy
	timeout time.Duration
}

func (h *handlers) register(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.POST("/execute", h.execute)
	v1.POST("/fanout", h.runFanout)
}

func (h *handlers) bind(c *gin.Context) (string, context.Context, context.CancelFunc, bool) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		server.RespondWithError(c, errors.InvalidInput("text", err.Error()))
		return "", nil, nil, false
	}
	if err := validation.NewChecks().Require("text", req.Text).MaxRunes("text", req.Text, maxTextRunes).Err(); err != nil {
		server.RespondWithError(c, err)
		return "", nil, nil, false
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	return req.Text, ctx, cancel, true
}

func (h *handlers) execute(c *gin.Context) {
	p := h.stats.get()
	if p == nil {
		server.RespondWithError(c, errors.ServiceUnavailable("word-stats pipeline"))
		return
	}
	text, ctx, cancel, ok := h.bind(c)
	if !ok {
		return
	}
	defer cancel()

	traceID, _ := logger.TraceIDFromContext(ctx)
	odd, err := dataflow.Retry(ctx, p, text, h.retry)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, executeResponse{TraceID: traceID, Odd: odd})
}

func (h *handlers) runFanout(c *gin.Context) {
	text, ctx, cancel, ok := h.bind(c)
	if !ok {
		return
	}
	defer cancel()

	res, err := wordflow.RunFanout(ctx, h.fanout, []string{text}, h.stats.dataflowOptions()...)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
