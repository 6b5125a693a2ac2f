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
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/b1query/services/query/datatypes"
	"github.com/AleutianAI/b1query/services/query/store"
)

func runConnectionsList(cmd *cobra.Command, args []string) {
	var resp struct {
		Connections []store.ConnectionProfile `json:"connections"`
	}
	if err := getJSON("/v1/connections", &resp); err != nil {
		log.Fatalf("Error: %v", err)
	}
	if len(resp.Connections) == 0 {
		fmt.Println("No saved connections.")
		return
	}
	for _, c := range resp.Connections {
		insecure := ""
		if c.InsecureTLS {
			insecure = "  [insecure TLS]"
		}
		fmt.Printf("%-20s %s  db=%s  user=%s%s\n", c.Name, c.ServerURL, c.CompanyDB, c.Username, insecure)
	}
}

func runConnectionsSave(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		log.Fatal("Usage: b1qctl connections save <name> --server ... --company ... --user ...")
	}
	if serverURL == "" || companyDB == "" || username == "" {
		log.Fatal("--server, --company and --user are all required")
	}

	req := datatypes.SaveConnectionRequest{
		Name:        args[0],
		ServerURL:   serverURL,
		CompanyDB:   companyDB,
		Username:    username,
		InsecureTLS: insecureTLS,
	}
	var saved store.ConnectionProfile
	if err := postJSON("/v1/connections", req, &saved); err != nil {
		log.Fatalf("Error: %v", err)
	}
	logger.Info("saved connection profile", "name", saved.Name)
	fmt.Printf("Saved connection %q (%s).\n", saved.Name, saved.ServerURL)
}

func runConnectionsDelete(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		log.Fatal("Usage: b1qctl connections delete <name>")
	}
	if err := deleteJSON("/v1/connections/" + args[0]); err != nil {
		log.Fatalf("Error: %v", err)
	}
	fmt.Printf("Deleted connection %q.\n", args[0])
}

func runHistoryList(cmd *cobra.Command, args []string) {
	path := "/v1/history"
	if historyLimit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, historyLimit)
	}
	var resp struct {
		History []store.HistoryEntry `json:"history"`
	}
	if err := getJSON(path, &resp); err != nil {
		log.Fatalf("Error: %v", err)
	}
	if len(resp.History) == 0 {
		fmt.Println("No recorded queries.")
		return
	}
	for _, e := range resp.History {
		fmt.Printf("%s  %-10s %-18s rows=%-6d %q\n",
			e.ExecutedAt.Local().Format(time.DateTime), e.Outcome, e.Resource, e.RowCount, e.Question)
	}
}

func runHistoryClear(cmd *cobra.Command, args []string) {
	if err := deleteJSON("/v1/history"); err != nil {
		log.Fatalf("Error: %v", err)
	}
	fmt.Println("History cleared.")
}

func getJSON(path string, out any) error {
	url := getServiceBaseURL() + path
	resp, err := httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service returned status %d: %s", resp.StatusCode, string(data))
	}
	return json.Unmarshal(data, out)
}

func deleteJSON(path string) error {
	url := getServiceBaseURL() + path
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("service returned status %d: %s", resp.StatusCode, string(data))
	}
	return nil
}
