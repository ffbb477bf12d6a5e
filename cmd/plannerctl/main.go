// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command plannerctl is the CLI client for the Aleutian Planner server.
//
// Usage:
//
//	plannerctl plan "install a ceiling fan" --city Austin --state TX
//	plannerctl runs
//	plannerctl report <report-id>
//	plannerctl inventory list
//	plannerctl inventory add "cordless drill" --category "power tools"
//
// The server address defaults to http://localhost:8090 and can be
// overridden with PLANNER_URL.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cityFlag       string
	stateFlag      string
	zipFlag        string
	budgetFlag     string
	experienceFlag string
	timeframeFlag  string
	categoryFlag   string
	quantityFlag   int
	limitFlag      int
)

var rootCmd = &cobra.Command{
	Use:   "plannerctl",
	Short: "CLI client for the Aleutian Planner server",
}

func getPlannerBaseURL() string {
	if url := os.Getenv("PLANNER_URL"); url != "" {
		return url
	}
	return "http://localhost:8090"
}

func main() {
	planCmd := &cobra.Command{
		Use:   "plan <project description>",
		Short: "Submit a planning run and stream its progress",
		Args:  cobra.MinimumNArgs(1),
		Run:   runPlanCommand,
	}
	planCmd.Flags().StringVar(&cityFlag, "city", "", "Project city")
	planCmd.Flags().StringVar(&stateFlag, "state", "", "Project state")
	planCmd.Flags().StringVar(&zipFlag, "zip", "", "Project zip code")
	planCmd.Flags().StringVar(&budgetFlag, "budget", "", "Budget tier: budget, mid, or premium")
	planCmd.Flags().StringVar(&experienceFlag, "experience", "", "Experience level: beginner, intermediate, or advanced")
	planCmd.Flags().StringVar(&timeframeFlag, "timeframe", "", "Target timeframe, e.g. 'one weekend'")

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent planning runs",
		Run:   runRunsCommand,
	}
	runsCmd.Flags().IntVar(&limitFlag, "limit", 20, "Maximum runs to list")

	reportCmd := &cobra.Command{
		Use:   "report <report-id>",
		Short: "Print a finished report",
		Args:  cobra.ExactArgs(1),
		Run:   runReportCommand,
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel an in-flight run",
		Args:  cobra.ExactArgs(1),
		Run:   runCancelCommand,
	}

	retryCmd := &cobra.Command{
		Use:   "retry <run-id>",
		Short: "Retry a failed run from its first incomplete phase",
		Args:  cobra.ExactArgs(1),
		Run:   runRetryCommand,
	}

	inventoryCmd := &cobra.Command{
		Use:   "inventory",
		Short: "Manage owned tools and materials",
	}
	inventoryAddCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add an owned item",
		Args:  cobra.MinimumNArgs(1),
		Run:   runInventoryAddCommand,
	}
	inventoryAddCmd.Flags().StringVar(&categoryFlag, "category", "", "Item category")
	inventoryAddCmd.Flags().IntVar(&quantityFlag, "quantity", 1, "Item quantity")
	inventoryCmd.AddCommand(
		inventoryAddCmd,
		&cobra.Command{
			Use:   "list",
			Short: "List owned items",
			Run:   runInventoryListCommand,
		},
		&cobra.Command{
			Use:   "remove <id>",
			Short: "Remove an owned item",
			Args:  cobra.ExactArgs(1),
			Run:   runInventoryRemoveCommand,
		},
	)

	rootCmd.AddCommand(planCmd, runsCmd, reportCmd, cancelCmd, retryCmd, inventoryCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
