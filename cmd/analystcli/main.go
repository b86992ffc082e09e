// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command analystcli is the terminal client for the Aleutian Analyst
// server.
//
// Usage:
//
//	GEMINI_API_KEY=... EDGAR_USER_AGENT="Name email@example.com" \
//	  analystcli chat --ticker AAPL
//
//	# Resume a previous conversation
//	analystcli chat --resume <session-id>
//
//	# List stored sessions
//	analystcli sessions
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	ticker    string
	resumeID  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "analystcli",
		Short: "Terminal client for the Aleutian Analyst server",
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "localhost:8080",
		"Analyst server host:port")

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Start or resume an interactive analyst conversation",
		Run:   runChatCommand,
	}
	chatCmd.Flags().StringVar(&ticker, "ticker", "", "Stock ticker for a new session")
	chatCmd.Flags().StringVar(&resumeID, "resume", "", "Session id to resume")

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions",
		Run:   runSessionsCommand,
	}

	rootCmd.AddCommand(chatCmd, sessionsCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
