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
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianPlanner/services/planner/datatypes"
	"github.com/spf13/cobra"
)

// eventEnvelope mirrors the server's SSE event payload.
type eventEnvelope struct {
	Type     string `json:"type"`
	RunID    string `json:"run_id"`
	Progress *struct {
		Phase   string `json:"phase"`
		Status  string `json:"status"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
		Percent int    `json:"percent"`
	} `json:"progress"`
	Complete *struct {
		ReportID  string  `json:"report_id"`
		Summary   string  `json:"summary"`
		TotalCost float64 `json:"total_cost"`
	} `json:"complete"`
	Error *struct {
		Phase       string `json:"phase"`
		Message     string `json:"message"`
		Recoverable bool   `json:"recoverable"`
	} `json:"error"`
}

func runPlanCommand(_ *cobra.Command, args []string) {
	project := strings.Join(args, " ")
	baseURL := getPlannerBaseURL()

	body, err := json.Marshal(map[string]any{
		"project": project,
		"location": datatypes.Location{
			City:  cityFlag,
			State: stateFlag,
			Zip:   zipFlag,
		},
		"preferences": datatypes.Preferences{
			BudgetTier:      budgetFlag,
			ExperienceLevel: experienceFlag,
			Timeframe:       timeframeFlag,
		},
	})
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	resp, err := http.Post(baseURL+"/v1/planner/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(resp.Body)
		log.Fatalf("Server rejected run: %s: %s", resp.Status, respBody)
	}

	var run datatypes.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		log.Fatalf("Error decoding response: %v", err)
	}

	fmt.Printf("Planning: %s\n", project)
	fmt.Printf("Run ID: %s\n", run.ID)
	fmt.Println("---")

	reportID := streamRunEvents(baseURL, run.ID)
	if reportID == "" {
		return
	}

	fmt.Println("---")
	printReport(baseURL, reportID)
}

// streamRunEvents follows the run's SSE stream until done, printing
// progress. Returns the report ID on success, empty otherwise.
func streamRunEvents(baseURL, runID string) string {
	client := &http.Client{Timeout: 0} // stream has no fixed length
	resp, err := client.Get(baseURL + "/v1/planner/runs/" + runID + "/events")
	if err != nil {
		log.Fatalf("Error connecting to event stream: %v", err)
	}
	defer resp.Body.Close()

	var reportID string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var ev eventEnvelope
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "progress":
			if ev.Progress == nil {
				continue
			}
			fmt.Printf("[%3d%%] %s", ev.Progress.Percent, ev.Progress.Message)
			if ev.Progress.Detail != "" {
				fmt.Printf(" (%s)", ev.Progress.Detail)
			}
			fmt.Println()
		case "complete":
			if ev.Complete == nil {
				continue
			}
			reportID = ev.Complete.ReportID
			fmt.Printf("\nDone. Estimated total: $%.2f\n", ev.Complete.TotalCost)
			if ev.Complete.Summary != "" {
				fmt.Println(ev.Complete.Summary)
			}
		case "error":
			if ev.Error == nil {
				continue
			}
			fmt.Printf("\nRun failed in the %s phase: %s\n", ev.Error.Phase, ev.Error.Message)
			if ev.Error.Recoverable {
				fmt.Printf("Retry with: plannerctl retry %s\n", runID)
			}
		case "cancelled":
			fmt.Printf("\nRun cancelled. Resume with: plannerctl retry %s\n", runID)
		case "done":
			return reportID
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("Event stream error: %v", err)
	}
	return reportID
}

func runRunsCommand(_ *cobra.Command, _ []string) {
	baseURL := getPlannerBaseURL()
	resp, err := http.Get(fmt.Sprintf("%s/v1/planner/runs?limit=%d", baseURL, limitFlag))
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Runs []datatypes.Run `json:"runs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		log.Fatalf("Error decoding response: %v", err)
	}

	if len(payload.Runs) == 0 {
		fmt.Println("No runs yet.")
		return
	}
	for _, run := range payload.Runs {
		line := fmt.Sprintf("%s  %-10s  %s", run.ID, run.Status, run.Project)
		if run.Status == datatypes.RunStatusRunning && run.CurrentPhase != "" {
			line += fmt.Sprintf(" (in %s)", run.CurrentPhase)
		}
		fmt.Println(line)
		fmt.Printf("    created %s\n", run.CreatedAt.Local().Format(time.RFC822))
	}
}

func runCancelCommand(_ *cobra.Command, args []string) {
	baseURL := getPlannerBaseURL()
	resp, err := http.Post(baseURL+"/v1/planner/runs/"+args[0]+"/cancel", "application/json", nil)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(resp.Body)
		log.Fatalf("Cancel failed: %s: %s", resp.Status, respBody)
	}
	fmt.Println("Cancellation requested.")
}

func runRetryCommand(_ *cobra.Command, args []string) {
	baseURL := getPlannerBaseURL()
	resp, err := http.Post(baseURL+"/v1/planner/runs/"+args[0]+"/retry", "application/json", nil)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(resp.Body)
		log.Fatalf("Retry failed: %s: %s", resp.Status, respBody)
	}

	var run datatypes.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		log.Fatalf("Error decoding response: %v", err)
	}
	fmt.Printf("Retrying run %s\n---\n", run.ID)

	reportID := streamRunEvents(baseURL, run.ID)
	if reportID != "" {
		fmt.Println("---")
		printReport(baseURL, reportID)
	}
}
