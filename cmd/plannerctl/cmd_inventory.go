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
	"strings"

	"github.com/AleutianAI/AleutianPlanner/services/planner/datatypes"
	"github.com/spf13/cobra"
)

func runInventoryAddCommand(_ *cobra.Command, args []string) {
	baseURL := getPlannerBaseURL()
	body, err := json.Marshal(map[string]any{
		"name":     strings.Join(args, " "),
		"category": categoryFlag,
		"quantity": quantityFlag,
	})
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	resp, err := http.Post(baseURL+"/v1/planner/inventory", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		log.Fatalf("Add failed: %s: %s", resp.Status, respBody)
	}

	var item datatypes.InventoryItem
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		log.Fatalf("Error decoding response: %v", err)
	}
	fmt.Printf("Added %q (id %s)\n", item.Name, item.ID)
}

func runInventoryListCommand(_ *cobra.Command, _ []string) {
	baseURL := getPlannerBaseURL()
	resp, err := http.Get(baseURL + "/v1/planner/inventory")
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Items []datatypes.InventoryItem `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		log.Fatalf("Error decoding response: %v", err)
	}

	if len(payload.Items) == 0 {
		fmt.Println("Inventory is empty.")
		return
	}
	for _, item := range payload.Items {
		line := fmt.Sprintf("%s  %s", item.ID, item.Name)
		if item.Quantity > 1 {
			line += fmt.Sprintf(" x%d", item.Quantity)
		}
		if item.Category != "" {
			line += fmt.Sprintf("  [%s]", item.Category)
		}
		fmt.Println(line)
	}
}

func runInventoryRemoveCommand(_ *cobra.Command, args []string) {
	baseURL := getPlannerBaseURL()
	req, err := http.NewRequest(http.MethodDelete, baseURL+"/v1/planner/inventory/"+args[0], nil)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		respBody, _ := io.ReadAll(resp.Body)
		log.Fatalf("Remove failed: %s: %s", resp.Status, respBody)
	}
	fmt.Println("Removed.")
}
