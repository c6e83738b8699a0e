package main

import (
	"encoding/json"
	"errors"

	"github.com/Isaries/RCSL-SQL-Client/internal/apperr"
	"github.com/Isaries/RCSL-SQL-Client/internal/config"
	"github.com/Isaries/RCSL-SQL-Client/internal/sqlexec"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Probe the configured RCSL endpoint",
	Long: `The ping command reads the .env credentials file and sends a trivial
statement (SELECT 1 AS val) to the configured endpoint. Use it to check
credentials and connectivity without starting the service.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := config.NewProvider(envFilePath())
		if err != nil {
			return err
		}

		vals, err := provider.Current()
		if err != nil {
			return err
		}
		if !vals.IsComplete() {
			pterm.Printf("❌ Not configured (missing keys in %s)\n", envFilePath())
			pterm.Println("   Run the service's setup endpoint or edit the file by hand")
			return errors.New("not configured")
		}

		pterm.Printf("Endpoint: %s\n", vals.APIURL)
		pterm.Printf("User:     %s\n", vals.Username)
		pterm.Println()

		exec, err := sqlexec.New(provider, nil)
		if err != nil {
			return err
		}

		spinner, _ := pterm.DefaultSpinner.Start("Sending SELECT 1 AS val ...")
		res, err := exec.Execute(cmd.Context(), "SELECT 1 AS val")
		if err != nil {
			spinner.Fail("Request failed")
			pterm.Printf("   kind:  %s\n", apperr.KindOf(err))
			pterm.Printf("   error: %s\n", apperr.UserMessage(err))
			return err
		}
		spinner.Success("Endpoint answered")

		switch res.Kind {
		case sqlexec.ResultRaw:
			pterm.Println("Raw (non-JSON) response body:")
			pterm.Println(res.Text)
		default:
			body, err := json.MarshalIndent(res.Payload(), "", "  ")
			if err != nil {
				return err
			}
			pterm.Println("Response payload:")
			pterm.Println(string(body))
		}
		return nil
	},
}
