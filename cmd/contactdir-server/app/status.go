package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/contactdir/contactdir-server/internal/httpclient"
	"github.com/contactdir/contactdir-server/internal/status"
)

const statusRequestTimeout = 10 * time.Second

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the sync state of a running server",
		RunE:  runStatus,
	}
	cmd.Flags().String("address", "http://localhost:8080", "Base URL of the server")
	cmd.Flags().String("format", "table", "Output format (table or json)")
	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	address, err := cmd.Flags().GetString("address")
	if err != nil {
		return fmt.Errorf("failed to get address flag: %w", err)
	}
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}

	client := httpclient.NewDefaultClient(statusRequestTimeout)
	body, err := client.Get(cmd.Context(), strings.TrimRight(address, "/")+"/v1/sync/status")
	if err != nil {
		return fmt.Errorf("failed to fetch sync status: %w", err)
	}

	var state status.SyncState
	if err := json.Unmarshal(body, &state); err != nil {
		return fmt.Errorf("failed to decode sync status: %w", err)
	}

	return printState(cmd.OutOrStdout(), &state, format, time.Now())
}

// printState writes state as JSON or as a two-column table
func printState(w io.Writer, state *status.SyncState, format string, now time.Time) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	case "table", "":
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}

	rows := [][]string{
		{"Status", string(state.Status)},
		{"Last sync", formatInstant(state.LastSyncAt, now)},
		{"Started", formatInstant(state.StartedAt, now)},
		{"Attempt", valueOr(state.AttemptID, "-")},
		{"Processed", strconv.Itoa(state.RecordsProcessed)},
		{"Created", strconv.Itoa(state.RecordsCreated)},
		{"Updated", strconv.Itoa(state.RecordsUpdated)},
		{"Deleted", strconv.Itoa(state.RecordsDeleted)},
	}
	if state.LastError != "" {
		rows = append(rows,
			[]string{"Error kind", valueOr(state.LastErrorKind, "-")},
			[]string{"Last error", state.LastError},
		)
	}

	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")
	if err := table.Bulk(rows); err != nil {
		return fmt.Errorf("failed to build status table: %w", err)
	}
	return table.Render()
}

// formatInstant renders t with its age relative to now
func formatInstant(t *time.Time, now time.Time) string {
	if t == nil {
		return "never"
	}
	age := now.Sub(*t).Truncate(time.Second)
	return fmt.Sprintf("%s (%s ago)", t.UTC().Format(time.RFC3339), age)
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
