// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"os"

	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	connectionName string
	serverURL      string
	companyDB      string
	username       string
	password       string
	insecureTLS    bool
	rowLimit       int
	noChart        bool
	noPaginate     bool
	historyLimit   int
	queryVars      []string

	rootCmd = &cobra.Command{
		Use:   "b1qctl",
		Short: "A cli to query SAP Business One through the b1query service",
		Long: `b1qctl talks to a running b1query service: ask natural-language
				questions against a Service Layer, manage saved connections,
				and inspect query history.`,
	}

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Asks a natural-language question against the Service Layer",
		Run:   runAskCommand, // Defined in cmd_query.go
	}

	// --- Connection Management ---
	connectionsCmd = &cobra.Command{
		Use:     "connections",
		Short:   "Manage saved Service Layer connection profiles",
		Aliases: []string{"conn"},
	}
	connectionsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List saved connection profiles",
		Run:   runConnectionsList, // Defined in cmd_connections.go
	}
	connectionsSaveCmd = &cobra.Command{
		Use:   "save [name]",
		Short: "Save a connection profile (the password is never stored)",
		Run:   runConnectionsSave, // Defined in cmd_connections.go
	}
	connectionsDeleteCmd = &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a saved connection profile",
		Run:   runConnectionsDelete, // Defined in cmd_connections.go
	}

	// --- History ---
	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show recent queries",
		Run:   runHistoryList, // Defined in cmd_connections.go
	}
	historyClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Delete all recorded query history",
		Run:   runHistoryClear, // Defined in cmd_connections.go
	}

	// --- Sessions ---
	invalidateCmd = &cobra.Command{
		Use:   "invalidate-sessions",
		Short: "Drop every cached Service Layer session (run after rotating passwords)",
		Run:   runInvalidateSessions, // Defined in cmd_query.go
	}
)

func init() {
	askCmd.Flags().StringVarP(&connectionName, "connection", "c", "", "Saved connection profile to use")
	askCmd.Flags().StringVar(&serverURL, "server", "", "Service Layer server URL (inline connection)")
	askCmd.Flags().StringVar(&companyDB, "company", "", "Company database (inline connection)")
	askCmd.Flags().StringVar(&username, "user", "", "Username (inline connection)")
	askCmd.Flags().StringVarP(&password, "password", "p", "", "Password (or set B1QCTL_PASSWORD)")
	askCmd.Flags().BoolVar(&insecureTLS, "insecure", false, "Skip TLS certificate verification")
	askCmd.Flags().IntVarP(&rowLimit, "limit", "n", 0, "Maximum rows to return (0 = service default)")
	askCmd.Flags().BoolVar(&noChart, "no-chart", false, "Skip the chart recommendation")
	askCmd.Flags().BoolVar(&noPaginate, "no-paginate", false, "Issue a single upstream request")
	askCmd.Flags().StringArrayVar(&queryVars, "var", nil, "Question variable as name=value (repeatable)")

	connectionsSaveCmd.Flags().StringVar(&serverURL, "server", "", "Service Layer server URL")
	connectionsSaveCmd.Flags().StringVar(&companyDB, "company", "", "Company database")
	connectionsSaveCmd.Flags().StringVar(&username, "user", "", "Username")
	connectionsSaveCmd.Flags().BoolVar(&insecureTLS, "insecure", false, "Skip TLS certificate verification")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum entries to show (0 = all)")

	connectionsCmd.AddCommand(connectionsListCmd, connectionsSaveCmd, connectionsDeleteCmd)
	historyCmd.AddCommand(historyClearCmd)
	rootCmd.AddCommand(askCmd, connectionsCmd, historyCmd, invalidateCmd)
}

// getServiceBaseURL resolves the b1query service address.
func getServiceBaseURL() string {
	if v := os.Getenv("B1QUERY_SERVICE_URL"); v != "" {
		return v
	}
	return "http://localhost:12310"
}
