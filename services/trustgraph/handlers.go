// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trustgraph

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/trustgraph/pkg/telemetry"
	"github.com/AleutianAI/trustgraph/services/trustgraph/identity"
)

// ServiceVersion is the trust oracle API version.
const ServiceVersion = "0.1.0"

// Handlers serves an Engine over HTTP.
type Handlers struct {
	engine *Engine
	logger *slog.Logger
}

// NewHandlers creates handlers for engine.
func NewHandlers(engine *Engine, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{engine: engine, logger: logger}
}

// HandleHealth handles GET /v1/trust/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: ServiceVersion})
}

// HandleStatus handles GET /v1/trust/status.
//
// Response:
//
//	200 OK: Status
//	503 Service Unavailable: storage failure
func (h *Handlers) HandleStatus(c *gin.Context) {
	st, err := h.engine.Status(c.Request.Context())
	if err != nil {
		h.fail(c, "HandleStatus", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// HandleDistance handles GET /v1/trust/distance/:pubkey.
//
// Description:
//
//	Measures the distance from the root to pubkey and its score from the
//	local snapshot. An unreachable target is a 200 with connected=false.
//
// Query Parameters:
//
//	max_hops: search bound (optional, default from config)
//
// Response:
//
//	200 OK: DistanceResponse
//	400 Bad Request: malformed pubkey or max_hops
//	503 Service Unavailable: storage failure
func (h *Handlers) HandleDistance(c *gin.Context) {
	maxHops, ok := h.maxHops(c)
	if !ok {
		return
	}
	t, err := h.engine.Trust(c.Request.Context(), c.Param("pubkey"), maxHops)
	if err != nil {
		h.fail(c, "HandleDistance", err)
		return
	}
	c.JSON(http.StatusOK, NewDistanceResponse(t.Target, t.Result, t.Score))
}

// HandleDistanceBatch handles POST /v1/trust/distance/batch.
//
// Request Body:
//
//	BatchDistanceRequest
//
// Response:
//
//	200 OK: BatchDistanceResponse
//	400 Bad Request: invalid body or pubkey
func (h *Handlers) HandleDistanceBatch(c *gin.Context) {
	var req BatchDistanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return
	}
	results, err := h.engine.GetDistanceBatch(c.Request.Context(), req.Targets, req.MaxHops)
	if err != nil {
		h.fail(c, "HandleDistanceBatch", err)
		return
	}

	resp := BatchDistanceResponse{Results: make([]DistanceResponse, 0, len(results))}
	seen := identity.NewSet()
	for _, raw := range req.Targets {
		id, _ := identity.Parse(raw)
		if !seen.Add(id) {
			continue
		}
		res := results[id]
		resp.Results = append(resp.Results, NewDistanceResponse(id, res, h.engine.Score(res)))
	}
	c.JSON(http.StatusOK, resp)
}

// HandleFollows handles GET /v1/trust/follows/:pubkey.
func (h *Handlers) HandleFollows(c *gin.Context) {
	follows, found, err := h.engine.Follows(c.Request.Context(), c.Param("pubkey"))
	if err != nil {
		h.fail(c, "HandleFollows", err)
		return
	}
	id, _ := identity.Parse(c.Param("pubkey"))
	if follows == nil {
		follows = []identity.Identity{}
	}
	c.JSON(http.StatusOK, FollowsResponse{Identity: id, Found: found, Follows: follows})
}

// HandleCommon handles GET /v1/trust/common/:pubkey.
func (h *Handlers) HandleCommon(c *gin.Context) {
	common, err := h.engine.CommonFollows(c.Request.Context(), c.Param("pubkey"))
	if err != nil {
		h.fail(c, "HandleCommon", err)
		return
	}
	id, _ := identity.Parse(c.Param("pubkey"))
	if common == nil {
		common = []identity.Identity{}
	}
	c.JSON(http.StatusOK, CommonResponse{Target: id, Common: common})
}

// HandleSync handles POST /v1/trust/sync.
//
// Description:
//
//	Runs a sync to completion and returns its summary. The request
//	context bounds the sync. The body is optional.
//
// Response:
//
//	200 OK: SyncResponse
//	409 Conflict: a sync is already running
//	502 Bad Gateway: no relay reachable
func (h *Handlers) HandleSync(c *gin.Context) {
	var req SyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
			return
		}
	}
	var opts []CallOption
	if req.TimeoutMS > 0 {
		opts = append(opts, WithTimeout(time.Duration(req.TimeoutMS)*time.Millisecond))
	}

	summary, err := h.engine.Sync(c.Request.Context(), req.Depth, nil, opts...)
	if err != nil {
		h.fail(c, "HandleSync", err)
		return
	}
	c.JSON(http.StatusOK, SyncResponse{Summary: summary, Nodes: summary.Nodes()})
}

// HandleClear handles DELETE /v1/trust/graph.
func (h *Handlers) HandleClear(c *gin.Context) {
	if err := h.engine.Clear(c.Request.Context()); err != nil {
		h.fail(c, "HandleClear", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) maxHops(c *gin.Context) (int, bool) {
	raw := c.Query("max_hops")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "max_hops must be a positive integer", Code: "INVALID_MAX_HOPS"})
		return 0, false
	}
	return n, true
}

// fail maps err to a status code and writes an ErrorResponse.
func (h *Handlers) fail(c *gin.Context, handler string, err error) {
	status, code := errorStatus(err)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.logger).With(
		slog.String("request_id", requestID(c)),
		slog.String("handler", handler),
	)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", slog.String("error", err.Error()))
	} else {
		logger.Debug("request rejected", slog.String("error", err.Error()))
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNoRoot):
		return http.StatusConflict, "NO_ROOT"
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, "INVALID_IDENTITY"
	case errors.Is(err, ErrSyncInProgress):
		return http.StatusConflict, "SYNC_IN_PROGRESS"
	case errors.Is(err, ErrAllSourcesUnavailable), errors.Is(err, ErrSourceUnavailable):
		return http.StatusBadGateway, "SOURCES_UNAVAILABLE"
	case errors.Is(err, ErrStorageUnavailable), errors.Is(err, ErrClosed):
		return http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	case errors.Is(err, context.Canceled):
		return 499, "CANCELLED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

// requestIDMiddleware echoes or assigns X-Request-ID.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString("request_id")
}
