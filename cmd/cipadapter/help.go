package main

import (
	"strings"

	"github.com/spf13/cobra"
)

// handleHelpArg lets "cipadapter run help" print help instead of starting.
func handleHelpArg(cmd *cobra.Command, args []string) bool {
	if len(args) == 0 {
		return false
	}
	if strings.EqualFold(args[0], "help") {
		_ = cmd.Help()
		return true
	}
	return false
}
