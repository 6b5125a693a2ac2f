// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/b1query/services/query/datatypes"
	"github.com/AleutianAI/b1query/services/query/store"
)

// ListHistory returns recorded queries, newest first. The optional "limit"
// query parameter caps the count.
func ListHistory(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "limit must be a non-negative integer"})
				return
			}
			limit = parsed
		}

		entries, err := st.History(limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		if entries == nil {
			entries = []store.HistoryEntry{}
		}
		c.JSON(http.StatusOK, gin.H{"history": entries})
	}
}

// ClearHistory deletes every recorded query.
func ClearHistory(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := st.ClearHistory(); err != nil {
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "cleared"})
	}
}
