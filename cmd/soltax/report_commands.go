package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/brojonat/soltax/service/ledger"
	"github.com/brojonat/soltax/service/summary"
	"github.com/urfave/cli/v2"
)

func rangeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "start",
			Usage:    "Start date (YYYY-MM-DD or RFC3339)",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "end",
			Usage:    "End date (YYYY-MM-DD or RFC3339, date-only ends are inclusive)",
			Required: true,
		},
	}
}

func walletArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one argument: WALLET_ADDRESS")
	}
	return c.Args().First(), nil
}

func transactionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "transactions",
		Aliases:   []string{"txns", "tx"},
		Usage:     "List classified transactions for a wallet",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: append(rangeFlags(),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Show at most this many transactions (0 for all)",
			},
		),
		Action: func(c *cli.Context) error {
			address, err := walletArg(c)
			if err != nil {
				return err
			}
			res, err := newClient(c).GetTransactions(c.Context, address, c.String("start"), c.String("end"))
			if err != nil {
				return fmt.Errorf("failed to get transactions: %w", err)
			}
			if limit := c.Int("limit"); limit > 0 && len(res.Transactions) > limit {
				res.Transactions = res.Transactions[:limit]
			}
			return render(c, res, func(w io.Writer) {
				fmt.Fprintf(w, "Wallet: %s\n", res.Address)
				fmt.Fprintf(w, "Range:  %s to %s\n\n", res.DateRange.Start.Format("2006-01-02"), res.DateRange.End.Format("2006-01-02"))
				printTransactions(w, res.Transactions)
				fmt.Fprintln(w)
				printSummary(w, &res.Summary)
			})
		},
	}
}

func summaryCommand() *cli.Command {
	return &cli.Command{
		Name:      "summary",
		Usage:     "Summarize a wallet's activity over a date range",
		ArgsUsage: "WALLET_ADDRESS",
		Flags:     rangeFlags(),
		Action: func(c *cli.Context) error {
			address, err := walletArg(c)
			if err != nil {
				return err
			}
			res, err := newClient(c).GetSummary(c.Context, address, c.String("start"), c.String("end"))
			if err != nil {
				return fmt.Errorf("failed to get summary: %w", err)
			}
			return render(c, res, func(w io.Writer) {
				fmt.Fprintf(w, "Wallet: %s\n\n", res.Address)
				printSummary(w, &res.Summary)
			})
		},
	}
}

func comprehensiveCommand() *cli.Command {
	return &cli.Command{
		Name:      "report",
		Usage:     "Full report: balance, summary and history",
		ArgsUsage: "WALLET_ADDRESS",
		Flags:     rangeFlags(),
		Action: func(c *cli.Context) error {
			address, err := walletArg(c)
			if err != nil {
				return err
			}
			res, err := newClient(c).GetComprehensive(c.Context, address, c.String("start"), c.String("end"))
			if err != nil {
				return fmt.Errorf("failed to get report: %w", err)
			}
			return render(c, res, func(w io.Writer) {
				fmt.Fprintf(w, "Wallet:  %s\n", res.Address)
				fmt.Fprintf(w, "Balance: %s SOL\n", res.Balance.String())
				fmt.Fprintf(w, "Generated: %s\n\n", res.Metadata.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
				printSummary(w, &res.Summary)
				fmt.Fprintf(w, "Average transaction value: $%s\n\n", res.Metadata.AverageTransactionValue.StringFixed(2))
				printTransactions(w, res.Transactions)
			})
		},
	}
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show a wallet's SOL balance",
		ArgsUsage: "WALLET_ADDRESS",
		Action: func(c *cli.Context) error {
			address, err := walletArg(c)
			if err != nil {
				return err
			}
			bal, err := newClient(c).GetBalance(c.Context, address)
			if err != nil {
				return fmt.Errorf("failed to get balance: %w", err)
			}
			out := map[string]string{"address": address, "balance": bal.String()}
			return render(c, out, func(w io.Writer) {
				fmt.Fprintf(w, "%s SOL\n", bal.String())
			})
		},
	}
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check that an address is a valid Solana public key",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			address, err := walletArg(c)
			if err != nil {
				return err
			}
			valid, err := newClient(c).ValidateWallet(c.Context, address)
			if err != nil {
				return fmt.Errorf("failed to validate address: %w", err)
			}
			out := map[string]any{"address": address, "valid": valid}
			if err := render(c, out, func(w io.Writer) {
				if valid {
					fmt.Fprintf(w, "%s is a valid address\n", address)
				} else {
					fmt.Fprintf(w, "%s is not a valid address\n", address)
				}
			}); err != nil {
				return err
			}
			if !valid {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func previewCommand() *cli.Command {
	return &cli.Command{
		Name:      "preview",
		Usage:     "Preview an export before paying for it",
		ArgsUsage: "WALLET_ADDRESS",
		Flags:     rangeFlags(),
		Action: func(c *cli.Context) error {
			address, err := walletArg(c)
			if err != nil {
				return err
			}
			res, err := newClient(c).Preview(c.Context, address, c.String("start"), c.String("end"))
			if err != nil {
				return fmt.Errorf("failed to get preview: %w", err)
			}
			return render(c, res, func(w io.Writer) {
				fmt.Fprintf(w, "Transactions: %d\n", res.TotalCount)
				fmt.Fprintf(w, "Estimated size: csv %s, pdf %s\n\n", res.EstimatedSize.CSV, res.EstimatedSize.PDF)
				printTransactions(w, res.Transactions)
			})
		},
	}
}

func printTransactions(w io.Writer, txns []ledger.Transaction) {
	if len(txns) == 0 {
		fmt.Fprintln(w, "No transactions found.")
		return
	}
	fmt.Fprintf(w, "%-19s  %-8s  %-8s  %-10s  %18s  %12s\n", "TIME", "STATUS", "TYPE", "TOKEN", "AMOUNT", "VALUE (USD)")
	for _, t := range txns {
		fmt.Fprintf(w, "%-19s  %-8s  %-8s  %-10s  %18s  %12s\n",
			t.BlockTime.UTC().Format("2006-01-02 15:04:05"),
			colorStatus(string(t.Status)),
			t.Type,
			truncate(t.Token, 10),
			t.Amount.String(),
			t.Value.StringFixed(2),
		)
	}
}

func printSummary(w io.Writer, s *summary.Summary) {
	fmt.Fprintf(w, "Transactions: %d (%d successful, %d failed)\n", s.TotalTransactions, s.SuccessfulTransactions, s.FailedTransactions)
	fmt.Fprintf(w, "Total value:  $%s\n", s.TotalValue.StringFixed(2))
	fmt.Fprintf(w, "Total fees:   %s SOL\n", s.TotalFees.String())

	types := make([]string, 0, len(s.ByType))
	for t := range s.ByType {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		b := s.ByType[ledger.Type(t)]
		fmt.Fprintf(w, "  %-8s %4d  $%s\n", t, b.Count, b.Value.StringFixed(2))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
