package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"feemarket/api/grpcserver"
)

var (
	timeout       time.Duration
	feeArg        string
	collateralArg string
	targetArg     string
	refreshBook   bool
	marketOrders  int
	perOrderArg   string
)

func init() {
	for _, c := range []*cobra.Command{BookCmd, StatusCmd, EnrollCmd, RepositionCmd, RemoveCmd, CollateralCmd} {
		c.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "how long to wait for the daemon")
	}

	EnrollCmd.Flags().StringVar(&feeArg, "fee", "", "relay fee in token units")
	EnrollCmd.Flags().StringVar(&collateralArg, "collateral", "", "collateral to lock in token units")
	_ = EnrollCmd.MarkFlagRequired("fee")
	_ = EnrollCmd.MarkFlagRequired("collateral")

	RepositionCmd.Flags().StringVar(&feeArg, "fee", "", "new relay fee in token units")
	_ = RepositionCmd.MarkFlagRequired("fee")

	CollateralCmd.Flags().StringVar(&targetArg, "target", "", "desired total collateral in token units")
	_ = CollateralCmd.MarkFlagRequired("target")

	BookCmd.Flags().BoolVar(&refreshBook, "refresh", false, "read the registry instead of the cached book")
	BookCmd.Flags().IntVar(&marketOrders, "orders", 0, "show the market fee for orders assigned to this many relayers")
	BookCmd.Flags().StringVar(&perOrderArg, "collateral-per-order", "0", "collateral each assigned relayer must have free, in token units")
}

// -------------------- Commands --------------------

var EnrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll the relayer with a fee and collateral",
	RunE: func(cmd *cobra.Command, args []string) error {
		fee, err := parseAmount(feeArg, config.Chain.Decimals)
		if err != nil {
			return err
		}
		coll, err := parseAmount(collateralArg, config.Chain.Decimals)
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *grpcserver.Client) error {
			res, err := c.Enroll(ctx, fee, coll)
			if err != nil {
				return err
			}
			printTransition(cmd.OutOrStdout(), res)
			return nil
		})
	},
}

var RepositionCmd = &cobra.Command{
	Use:   "reposition",
	Short: "Change the relayer's fee",
	RunE: func(cmd *cobra.Command, args []string) error {
		fee, err := parseAmount(feeArg, config.Chain.Decimals)
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *grpcserver.Client) error {
			res, err := c.Reposition(ctx, fee)
			if err != nil {
				return err
			}
			printTransition(cmd.OutOrStdout(), res)
			return nil
		})
	},
}

var RemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Leave the order book",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *grpcserver.Client) error {
			res, err := c.Remove(ctx)
			if err != nil {
				return err
			}
			printTransition(cmd.OutOrStdout(), res)
			return nil
		})
	},
}

var CollateralCmd = &cobra.Command{
	Use:   "collateral",
	Short: "Set the relayer's total collateral",
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := parseAmount(targetArg, config.Chain.Decimals)
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *grpcserver.Client) error {
			res, err := c.AdjustCollateral(ctx, target)
			if err != nil {
				return err
			}
			printTransition(cmd.OutOrStdout(), res)
			return nil
		})
	},
}

// -------------------- Queries --------------------

var BookCmd = &cobra.Command{
	Use:   "book",
	Short: "Print the relayer order book, cheapest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &grpcserver.OrderBookRequest{Refresh: refreshBook, Orders: marketOrders}
		if marketOrders > 0 {
			per, err := parseAmount(perOrderArg, config.Chain.Decimals)
			if err != nil {
				return err
			}
			req.CollateralPerOrder = per.String()
		}
		return withClient(func(ctx context.Context, c *grpcserver.Client) error {
			book, err := c.GetOrderBook(ctx, req)
			if err != nil {
				return err
			}
			printBook(cmd.OutOrStdout(), book, config.Chain.Decimals)
			return nil
		})
	},
}

var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the relayer's state and balance",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *grpcserver.Client) error {
			st, err := c.GetState(ctx)
			if err != nil {
				return err
			}
			bal, err := c.GetBalance(ctx, "")
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "relayer:   %s\n", st.Relayer)
			fmt.Fprintf(out, "chain:     %s\n", st.Chain)
			fmt.Fprintf(out, "state:     %s\n", st.State)
			fmt.Fprintf(out, "total:     %s\n", formatAmount(bal.Total, config.Chain.Decimals))
			fmt.Fprintf(out, "available: %s\n", formatAmount(bal.Available, config.Chain.Decimals))
			return nil
		})
	},
}

// -------------------- Helpers --------------------

func withClient(fn func(context.Context, *grpcserver.Client) error) error {
	c, err := grpcserver.Dial(config.GRPC.ListenAddr)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return fn(ctx, c)
}

func printTransition(w io.Writer, r *grpcserver.TransitionResponse) {
	if !r.Submitted {
		fmt.Fprintln(w, "nothing to do")
		return
	}
	fmt.Fprintf(w, "%s: %s -> %s\n", r.Op, r.From, r.To)
	fmt.Fprintf(w, "tx:    %s\n", r.TxHash)
	if r.BlockNumber != 0 {
		fmt.Fprintf(w, "block: %d\n", r.BlockNumber)
	}
}

func printBook(w io.Writer, b *grpcserver.OrderBookResponse, decimals int32) {
	fmt.Fprintf(w, "height %d, read %s\n", b.Height, time.Unix(b.ReadAt, 0).UTC().Format(time.RFC3339))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tRELAYER\tFEE\tCOLLATERAL\tFREE\t")
	for _, r := range b.Relayers {
		mark := ""
		if r.Position == b.Position {
			mark = "*"
		}
		fmt.Fprintf(tw, "%d%s\t%s\t%s\t%s\t%s\t\n", r.Position, mark, r.Address,
			formatAmount(r.Fee, decimals), formatAmount(r.Collateral, decimals), formatAmount(r.Free, decimals))
	}
	tw.Flush()

	if b.MarketFee != "" {
		fmt.Fprintf(w, "market fee: %s\n", formatAmount(b.MarketFee, decimals))
	} else if marketOrders > 0 {
		fmt.Fprintln(w, "market fee: not enough relayers")
	}
}
