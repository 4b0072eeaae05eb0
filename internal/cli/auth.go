package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Verify Ringba API credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := getApp().TestAuth(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "credentials accepted")
		return nil
	},
}
