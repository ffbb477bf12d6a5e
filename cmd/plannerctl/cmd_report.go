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
	"strings"

	"github.com/AleutianAI/AleutianPlanner/services/planner/datatypes"
	"github.com/spf13/cobra"
)

func runReportCommand(_ *cobra.Command, args []string) {
	printReport(getPlannerBaseURL(), args[0])
}

func printReport(baseURL, reportID string) {
	resp, err := http.Get(baseURL + "/v1/planner/reports/" + reportID)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		log.Fatalf("Report fetch failed: %s: %s", resp.Status, respBody)
	}

	var report datatypes.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		log.Fatalf("Error decoding report: %v", err)
	}

	fmt.Printf("%s\n%s\n\n", report.Title, strings.Repeat("=", len(report.Title)))
	if report.Summary != "" {
		fmt.Printf("%s\n\n", report.Summary)
	}
	fmt.Printf("Estimated total cost: $%.2f\n\n", report.TotalCost)

	for _, section := range report.Sections {
		fmt.Printf("## %s\n\n%s\n\n", section.Title, section.Body)
	}

	if report.ShareToken != "" {
		fmt.Printf("Share link: %s/v1/planner/shared/%s\n", baseURL, report.ShareToken)
	}
}
