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
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes mounts the trust oracle under rg.
//
// Endpoints:
//
//	GET    /trust/health
//	GET    /trust/status
//	GET    /trust/distance/:pubkey?max_hops=
//	POST   /trust/distance/batch
//	GET    /trust/follows/:pubkey
//	GET    /trust/common/:pubkey
//	POST   /trust/sync
//	DELETE /trust/graph
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	trust := rg.Group("/trust")
	{
		trust.GET("/health", handlers.HandleHealth)
		trust.GET("/status", handlers.HandleStatus)

		trust.GET("/distance/:pubkey", handlers.HandleDistance)
		trust.POST("/distance/batch", handlers.HandleDistanceBatch)
		trust.GET("/follows/:pubkey", handlers.HandleFollows)
		trust.GET("/common/:pubkey", handlers.HandleCommon)

		trust.POST("/sync", handlers.HandleSync)
		trust.DELETE("/graph", handlers.HandleClear)
	}
}

// NewRouter builds the HTTP server: tracing and recovery middleware, the
// /v1 API, and /metrics when metrics is non-nil.
func NewRouter(handlers *Handlers, metrics http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("trustgraph"))
	router.Use(requestIDMiddleware())

	RegisterRoutes(router.Group("/v1"), handlers)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	return router
}
