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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/b1query/services/query/datatypes"
)

var httpClient = &http.Client{Timeout: 5 * time.Minute}

func runAskCommand(cmd *cobra.Command, args []string) {
	question := strings.Join(args, " ")
	if question == "" {
		log.Fatal("Usage: b1qctl ask \"which customers owe us money\"")
	}

	req := datatypes.QueryRequest{
		Question:   question,
		Variables:  parseVars(queryVars),
		Limit:      rowLimit,
		NoChart:    noChart,
		NoPaginate: noPaginate,
	}

	pw := password
	if pw == "" {
		pw = os.Getenv("B1QCTL_PASSWORD")
	}

	if connectionName != "" {
		req.ConnectionName = connectionName
		req.Password = pw
	} else {
		if serverURL == "" || companyDB == "" || username == "" {
			log.Fatal("Provide --connection, or --server, --company and --user together")
		}
		req.Connection = &datatypes.ConnectionInput{
			ServerURL:   serverURL,
			CompanyDB:   companyDB,
			Username:    username,
			Password:    pw,
			InsecureTLS: insecureTLS,
		}
	}

	fmt.Printf("Asking: %s\n---\n", question)
	logger.Info("sending query", "question", question, "connection", connectionName)

	var resp datatypes.QueryResponse
	if err := postJSON("/v1/query", req, &resp); err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Printf("Resource: %s", resp.Resource)
	if resp.ViaFallback {
		fmt.Print("  (resolved by keyword matching)")
	}
	fmt.Println()
	if resp.Filter != "" {
		fmt.Printf("Filter:   %s\n", resp.Filter)
	}
	fmt.Printf("Rows:     %d (%d pages", resp.RowCount, resp.Pages)
	if resp.TotalCountHint >= 0 {
		fmt.Printf(", upstream total %d", resp.TotalCountHint)
	}
	fmt.Println(")")
	if resp.Chart != nil {
		fmt.Printf("Chart:    %s", resp.Chart.Kind)
		if resp.Chart.YField != "" {
			fmt.Printf(" (%s over %s)", resp.Chart.YField, resp.Chart.XField)
		}
		fmt.Println()
	}
	fmt.Println("---")

	out, err := json.MarshalIndent(resp.Rows, "", "  ")
	if err != nil {
		log.Fatalf("Error rendering rows: %v", err)
	}
	fmt.Println(string(out))
}

func runInvalidateSessions(cmd *cobra.Command, args []string) {
	var resp map[string]any
	if err := postJSON("/v1/sessions/invalidate", struct{}{}, &resp); err != nil {
		log.Fatalf("Error: %v", err)
	}
	fmt.Println("All cached sessions invalidated.")
}

// parseVars turns repeated name=value flags into the request variable map.
func parseVars(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, found := strings.Cut(pair, "=")
		if !found {
			log.Fatalf("Invalid --var %q, expected name=value", pair)
		}
		vars[name] = value
	}
	return vars
}

// postJSON sends body to the service and decodes the response into out,
// surfacing the service's error body on non-2xx statuses.
func postJSON(path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := getServiceBaseURL() + path
	resp, err := httpClient.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp datatypes.ErrorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
			if errResp.Kind != "" {
				return fmt.Errorf("%s (%s)", errResp.Error, errResp.Kind)
			}
			return fmt.Errorf("%s", errResp.Error)
		}
		return fmt.Errorf("service returned status %d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
