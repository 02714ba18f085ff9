// Package app wires the authserverd command-line surface.
package app

import (
	"github.com/spf13/cobra"

	"github.com/meridianid/authserver/internal/obs/log"
)

var rootCmd = &cobra.Command{
	Use:               "authserverd",
	DisableAutoGenTag: true,
	Short:             "Multi-tenant OIDC/OAuth2 authorization server",
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			log.Errorw("displaying help", "error", err)
		}
	},
}

// NewRootCmd builds the root authserverd command.
func NewRootCmd() *cobra.Command {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.SilenceUsage = true
	return rootCmd
}
