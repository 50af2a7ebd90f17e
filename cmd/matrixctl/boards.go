package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/matrixnet/internal/domain"
)

func newBoardsCmd(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boards",
		Short: "List and create boards",
	}
	cmd.AddCommand(newBoardsListCmd(env), newBoardsCreateCmd(env))
	return cmd
}

func newBoardsListCmd(env *cliEnv) *cobra.Command {
	var activeOnly bool
	var currency string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured boards",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, cleanup, err := env.wire(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			boards, err := deps.Boards.List(cmd.Context(), domain.BoardFilter{ActiveOnly: activeOnly, Currency: currency})
			if err != nil {
				return err
			}
			printBoards(cmd, boards)
			return nil
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active boards")
	cmd.Flags().StringVar(&currency, "currency", "", "filter by currency")
	return cmd
}

func printBoards(cmd *cobra.Command, boards []domain.Board) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tWxD\tSLOTS\tPRICE\tACTIVE\tNEXT")
	for _, b := range boards {
		slots := b.Geometry().Capacity()
		fmt.Fprintf(tw, "%s\t%s\t%dx%d\t%d\t%s %s\t%t\t%s\n",
			b.ID, b.Name, b.Width, b.Depth, slots,
			b.EntryPrice.StringFixed(2), b.Currency, b.Active, b.RecycleBoardID())
	}
	_ = tw.Flush()
}

// boardFlags mirrors the board fields settable from the command line.
// Monetary values stay strings until parsed into decimals.
type boardFlags struct {
	id            string
	name          string
	currency      string
	next          string
	width         int
	depth         int
	price         string
	referral      string
	matrix        string
	matching      string
	cycle         string
	matrixDepth   int
	matchingDepth int
	max           int
	cycleSubtrees bool
	inactive      bool
}

func (f boardFlags) board() (domain.Board, error) {
	b := domain.Board{
		ID:            f.id,
		Name:          f.name,
		Width:         f.width,
		Depth:         f.depth,
		Currency:      f.currency,
		MatrixDepth:   f.matrixDepth,
		MatchingDepth: f.matchingDepth,
		NextBoardID:   f.next,
		CycleSubtrees: f.cycleSubtrees,
		MaxInstances:  f.max,
		Active:        !f.inactive,
	}
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"price", f.price, &b.EntryPrice},
		{"referral", f.referral, &b.Bonuses.Referral},
		{"matrix", f.matrix, &b.Bonuses.Matrix},
		{"matching", f.matching, &b.Bonuses.Matching},
		{"cycle", f.cycle, &b.Bonuses.Cycle},
	}
	for _, fd := range fields {
		d, err := decimal.NewFromString(fd.raw)
		if err != nil {
			return domain.Board{}, fmt.Errorf("--%s: %w", fd.name, err)
		}
		*fd.dst = d
	}
	return b, nil
}

func newBoardsCreateCmd(env *cliEnv) *cobra.Command {
	var f boardFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a board",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := f.board()
			if err != nil {
				return err
			}
			deps, cleanup, err := env.wire(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			created, err := deps.Boards.Create(cmd.Context(), b)
			if err != nil {
				return err
			}
			printBoards(cmd, []domain.Board{created})
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.id, "id", "", "board id (generated when empty)")
	fl.StringVar(&f.name, "name", "", "display name")
	fl.IntVar(&f.width, "width", 2, "children per node")
	fl.IntVar(&f.depth, "depth", 3, "levels including the root")
	fl.StringVar(&f.price, "price", "0", "entry price")
	fl.StringVar(&f.currency, "currency", "USD", "ISO currency code")
	fl.StringVar(&f.referral, "referral", "0", "referral bonus, percent of price")
	fl.StringVar(&f.matrix, "matrix", "0", "matrix bonus per level, percent of price")
	fl.StringVar(&f.matching, "matching", "0", "matching bonus, percent of the referral")
	fl.StringVar(&f.cycle, "cycle", "0", "cycle bonus, percent of price")
	fl.IntVar(&f.matrixDepth, "matrix-depth", 0, "ancestor levels paid the matrix bonus (0 = all)")
	fl.IntVar(&f.matchingDepth, "matching-depth", 1, "sponsor generations paid the matching bonus")
	fl.IntVar(&f.max, "max-instances", 0, "cap on open instances (0 = unlimited)")
	fl.StringVar(&f.next, "next", "", "board that cycled members re-enter (default: this board)")
	fl.BoolVar(&f.cycleSubtrees, "cycle-subtrees", false, "also cycle completed inner nodes")
	fl.BoolVar(&f.inactive, "inactive", false, "create the board inactive")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}
