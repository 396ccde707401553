// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"sort"

	"github.com/bureau-foundation/reconstruct/lib/codec"
	"github.com/bureau-foundation/reconstruct/lib/wire"
)

// decodeAdminReply decodes a one-shot reply, surfacing service-side
// errors as Go errors.
func decodeAdminReply(raw []byte, response any) error {
	var serviceError wire.ErrorResponse
	if err := codec.Unmarshal(raw, &serviceError); err == nil && serviceError.Error != "" {
		if serviceError.Code != "" {
			return fmt.Errorf("service error (%s): %s", serviceError.Code, serviceError.Error)
		}
		return fmt.Errorf("service error: %s", serviceError.Error)
	}
	return codec.Unmarshal(raw, response)
}

func runList(socketPath string) error {
	var response wire.ListSessionsResponse
	if err := adminRequest(socketPath, wire.ListSessionsRequest{Type: wire.TypeListSessions}, &response); err != nil {
		return err
	}

	if len(response.Sessions) == 0 {
		fmt.Println("no live sessions")
		return nil
	}
	for _, summary := range response.Sessions {
		line := fmt.Sprintf("%s  %-10s  inputs=%-3d  created=%s  last_activity=%s",
			summary.SessionID,
			summary.Status,
			summary.InputCount,
			summary.CreatedAt.Format("15:04:05"),
			summary.LastActivity.Format("15:04:05"))
		if summary.LastError != "" {
			line += "  error=" + summary.LastError
		}
		fmt.Println(line)
	}
	return nil
}

func runStats(socketPath string) error {
	var response wire.StatsResponse
	if err := adminRequest(socketPath, wire.StatsRequest{Type: wire.TypeStats}, &response); err != nil {
		return err
	}

	fmt.Printf("sessions: %d / %d\n", response.Sessions, response.Capacity)
	fmt.Printf("total inputs: %d\n", response.TotalInputs)

	statuses := make([]string, 0, len(response.ByStatus))
	for status := range response.ByStatus {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		fmt.Printf("  %s: %d\n", status, response.ByStatus[status])
	}
	return nil
}

func runDelete(socketPath, sessionID string) error {
	var response wire.DeleteSessionResponse
	if err := adminRequest(socketPath, wire.DeleteSessionRequest{
		Type:      wire.TypeDeleteSession,
		SessionID: sessionID,
	}, &response); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", sessionID)
	return nil
}
