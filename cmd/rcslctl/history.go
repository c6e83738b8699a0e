package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Isaries/RCSL-SQL-Client/internal/store"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Dump recent query history and quick access items",
	Long: `The history command reads the service's SQLite store directly and prints
the most recent history entries together with all saved quick access items.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := filepath.Join(dataDir, "local_data.db")
		if _, err := os.Stat(dbPath); err != nil {
			pterm.Printf("❌ No data file at %s\n", dbPath)
			pterm.Println("   Point --data-dir at the directory rcsl-sql-client runs in")
			return err
		}

		st, err := store.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		ctx := cmd.Context()

		entries, err := st.ListHistory(ctx)
		if err != nil {
			return fmt.Errorf("list history: %w", err)
		}

		pterm.Println(pterm.NewStyle(pterm.FgLightCyan, pterm.Bold).Sprint("Query history (newest first)"))
		if len(entries) == 0 {
			pterm.Println("  (empty)")
		} else {
			rows := pterm.TableData{{"ID", "When", "SQL"}}
			for _, e := range entries {
				rows = append(rows, []string{
					strconv.FormatInt(e.ID, 10),
					time.UnixMilli(e.CreatedAtUnixMs).Format("2006-01-02 15:04:05"),
					e.SQL,
				})
			}
			if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
				return err
			}
		}

		items, err := st.ListQuickAccess(ctx)
		if err != nil {
			return fmt.Errorf("list quick access: %w", err)
		}

		pterm.Println()
		pterm.Println(pterm.NewStyle(pterm.FgLightCyan, pterm.Bold).Sprint("Quick access items"))
		if len(items) == 0 {
			pterm.Println("  (empty)")
			return nil
		}
		rows := pterm.TableData{{"Order", "Name", "SQL"}}
		for _, it := range items {
			rows = append(rows, []string{
				strconv.FormatInt(it.SortOrder, 10),
				it.Name,
				it.SQL,
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}
