package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ntauth/fracrank"
	"github.com/ntauth/fracrank/internal/config"
)

type keyFlags struct {
	alphabet  string
	strategy  string
	step      int
	maxLength int
}

func (f *keyFlags) generator() (*fracrank.Generator, error) {
	return config.RankConfig{
		Alphabet:       f.alphabet,
		AppendStrategy: f.strategy,
		StepSize:       f.step,
		MaxLength:      f.maxLength,
	}.Generator()
}

// NewKeyCommand constructs the `key` command group for offline key math.
func NewKeyCommand() *cobra.Command {
	flags := &keyFlags{}
	keyCmd := &cobra.Command{
		Use:   "key",
		Short: "Compute and inspect rank keys",
	}
	pf := keyCmd.PersistentFlags()
	pf.StringVar(&flags.alphabet, "alphabet", "base36", "digit set: base36|base62")
	pf.StringVar(&flags.strategy, "strategy", fracrank.AppendMidpoint.String(), "append strategy: midpoint|step")
	pf.IntVar(&flags.step, "step", 1, "digits to advance per append with --strategy step")
	pf.IntVar(&flags.maxLength, "max-length", 0, "length past which a key needs rebalancing (0 = never)")

	keyCmd.AddCommand(
		newKeyBetweenCommand(flags),
		newKeyLastCommand(flags),
		newKeyFirstCommand(flags),
		newKeySpreadCommand(flags),
		newKeyInspectCommand(flags),
	)
	return keyCmd
}

func newKeyBetweenCommand(flags *keyFlags) *cobra.Command {
	var (
		prev, next string
		count      uint
		jitter     int
	)
	betweenCmd := &cobra.Command{
		Use:   "between",
		Short: "Print keys strictly between --prev and --next",
		Long: `Print keys strictly between --prev and --next. An omitted bound is the
start or the end of the list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := flags.generator()
			if err != nil {
				return err
			}
			var keys []string
			if jitter > 0 {
				keys, err = g.NKeysBetweenJitter(prev, next, count, fracrank.SharedJitter{}, jitter)
			} else {
				keys, err = g.NKeysBetween(prev, next, count)
			}
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
	betweenCmd.Flags().StringVar(&prev, "prev", "", "lower bound (exclusive)")
	betweenCmd.Flags().StringVar(&next, "next", "", "upper bound (exclusive)")
	betweenCmd.Flags().UintVarP(&count, "count", "n", 1, "number of keys")
	betweenCmd.Flags().IntVar(&jitter, "jitter", 0, "randomize picks over this many digits around the midpoint")
	return betweenCmd
}

func newKeyLastCommand(flags *keyFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "last [LAST]",
		Short: "Print the key for an item appended after LAST",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := flags.generator()
			if err != nil {
				return err
			}
			key, err := g.KeyForLast(optionalArg(args))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func newKeyFirstCommand(flags *keyFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "first [FIRST]",
		Short: "Print the key for an item prepended before FIRST",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := flags.generator()
			if err != nil {
				return err
			}
			key, err := g.KeyForFirst(optionalArg(args))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func newKeySpreadCommand(flags *keyFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "spread N",
		Short: "Print N evenly spaced keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 0 {
				return fmt.Errorf("invalid count %q", args[0])
			}
			g, err := flags.generator()
			if err != nil {
				return err
			}
			for _, k := range g.Spread(n) {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
}

func newKeyInspectCommand(flags *keyFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect KEY",
		Short: "Validate KEY and print its length and approximate position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := flags.generator()
			if err != nil {
				return err
			}
			key := args[0]
			if err := g.Validate(key); err != nil {
				return err
			}
			approx, err := g.Float64Approx(key)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "key:             %s\n", key)
			fmt.Fprintf(out, "length:          %d\n", len(key))
			fmt.Fprintf(out, "position:        %.6f\n", approx)
			fmt.Fprintf(out, "needs rebalance: %t\n", g.NeedsRebalance(key))
			return nil
		},
	}
}

func optionalArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
