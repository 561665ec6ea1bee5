package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the attache version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("attache version %s\n", version)
		},
	}
}
