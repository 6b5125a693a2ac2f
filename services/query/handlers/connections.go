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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/b1query/services/query/datatypes"
	"github.com/AleutianAI/b1query/services/query/store"
	"github.com/AleutianAI/b1query/services/servicelayer"
)

// SaveConnection upserts a named connection profile. The server URL is
// normalized on the way in so saved profiles compare equal to inline
// credentials for session-cache purposes.
func SaveConnection(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SaveConnectionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "Invalid request body"})
			return
		}

		profile := store.ConnectionProfile{
			Name:        req.Name,
			ServerURL:   servicelayer.NormalizeServerURL(req.ServerURL),
			CompanyDB:   req.CompanyDB,
			Username:    req.Username,
			InsecureTLS: req.InsecureTLS,
		}
		if err := st.SaveConnection(profile); err != nil {
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, profile)
	}
}

// ListConnections returns every saved profile.
func ListConnections(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		profiles, err := st.ListConnections()
		if err != nil {
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		if profiles == nil {
			profiles = []store.ConnectionProfile{}
		}
		c.JSON(http.StatusOK, gin.H{"connections": profiles})
	}
}

// GetConnection returns one saved profile by name.
func GetConnection(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		profile, err := st.GetConnection(c.Param("name"))
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "unknown connection"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, profile)
	}
}

// DeleteConnection removes a saved profile.
func DeleteConnection(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := st.DeleteConnection(c.Param("name")); err != nil {
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	}
}
