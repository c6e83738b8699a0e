package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/Isaries/RCSL-SQL-Client/internal/auditlog"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Print recent execution audit events",
	Long: `The audit command reads the service's execution trail (audit/executions.jsonl
and its rotated backups) and prints the most recent events, newest first.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		trail, err := auditlog.New(auditlog.Options{
			Logger: slog.Default(),
			Dir:    filepath.Join(dataDir, "audit"),
		})
		if err != nil {
			return fmt.Errorf("open audit trail: %w", err)
		}

		entries, err := trail.List(auditLimit)
		if err != nil {
			return fmt.Errorf("read audit trail: %w", err)
		}
		if len(entries) == 0 {
			pterm.Println("No execution events recorded yet")
			return nil
		}

		rows := pterm.TableData{{"When", "Status", "Endpoint", "Statement", "Error"}}
		for _, e := range entries {
			rows = append(rows, []string{e.CreatedAt, e.Status, e.Endpoint, e.Statement, e.Error})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}

func init() {
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum number of events to print")
}
