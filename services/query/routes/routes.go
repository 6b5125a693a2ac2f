// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/b1query/services/query"
	"github.com/AleutianAI/b1query/services/query/chart"
	"github.com/AleutianAI/b1query/services/query/handlers"
	"github.com/AleutianAI/b1query/services/query/nlq"
	"github.com/AleutianAI/b1query/services/query/store"
)

// SetupRoutes registers every endpoint of the query service. st may be nil
// when persistence is disabled; the connection and history groups are then
// not mounted.
func SetupRoutes(router *gin.Engine, resolver *nlq.Resolver, executor *query.Executor,
	recommender *chart.Recommender, st *store.Store) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/query", handlers.HandleQuery(resolver, executor, recommender, st))
		v1.POST("/sessions/invalidate", handlers.HandleInvalidateSessions(executor))

		if st != nil {
			connections := v1.Group("/connections")
			{
				connections.POST("", handlers.SaveConnection(st))
				connections.GET("", handlers.ListConnections(st))
				connections.GET("/:name", handlers.GetConnection(st))
				connections.DELETE("/:name", handlers.DeleteConnection(st))
			}
			history := v1.Group("/history")
			{
				history.GET("", handlers.ListHistory(st))
				history.DELETE("", handlers.ClearHistory(st))
			}
		}
	}
}
