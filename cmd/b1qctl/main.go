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
	"log"
	"os"

	"github.com/AleutianAI/b1query/pkg/logging"
)

var logger *logging.Logger

func main() {
	logger = logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("B1QCTL_LOG_LEVEL")),
		LogDir:  os.Getenv("B1QCTL_LOG_DIR"),
		Service: "b1qctl",
	})
	defer logger.Close()

	// Execute the root command. Cobra handles parsing the arguments.
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
