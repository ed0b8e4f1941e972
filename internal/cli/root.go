// Package cli contains the Cobra commands of the fracrank binary.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs the root command with the key, serve and watch groups.
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "fracrank",
		Short: "Fractional rank keys for ordered lists",
		Long: `fracrank computes lexicographic rank keys that place an item between two
others without renumbering its neighbours, and serves ordered collections
of lessons and posts over HTTP.`,
		SilenceUsage: true,
	}
	root.AddCommand(NewKeyCommand())
	root.AddCommand(NewServeCommand())
	root.AddCommand(NewWatchCommand())
	return root
}
