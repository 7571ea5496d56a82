package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	natspkg "github.com/brojonat/soltax/service/nats"
	"github.com/brojonat/soltax/service/payment"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// errConditionMet stops a watch once the --until filter matches.
var errConditionMet = errors.New("until condition met")

func createPaymentCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create a payment request for a csv or pdf export",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: append(rangeFlags(),
			&cli.StringFlag{
				Name:  "type",
				Usage: "Export type: csv or pdf",
				Value: "csv",
			},
			&cli.StringFlag{
				Name:  "qr-out",
				Usage: "Write the Solana Pay QR code PNG to this file",
			},
		),
		Action: func(c *cli.Context) error {
			address, err := walletArg(c)
			if err != nil {
				return err
			}
			res, err := newClient(c).CreateExportPayment(c.Context, c.String("type"), address, c.String("start"), c.String("end"))
			if err != nil {
				return fmt.Errorf("failed to create payment request: %w", err)
			}

			if path := c.String("qr-out"); path != "" {
				if res.Invoice == nil || res.Invoice.QRCodeData == "" {
					return fmt.Errorf("server returned no QR code")
				}
				png, err := base64.StdEncoding.DecodeString(res.Invoice.QRCodeData)
				if err != nil {
					return fmt.Errorf("failed to decode QR code: %w", err)
				}
				if err := os.WriteFile(path, png, 0o644); err != nil {
					return fmt.Errorf("failed to write QR code: %w", err)
				}
			}

			return render(c, res, func(w io.Writer) {
				printPaymentView(w, &res.PaymentRequest)
				if res.Invoice != nil {
					fmt.Fprintf(w, "\nPay with: %s\n", res.Invoice.PaymentURL)
					fmt.Fprintf(w, "Memo:     %s\n", res.Invoice.Memo)
				}
				if res.WorkflowID != "" {
					fmt.Fprintf(w, "Workflow: %s\n", res.WorkflowID)
				}
			})
		},
	}
}

func paymentStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the status of a payment request",
		ArgsUsage: "PAYMENT_ID",
		Action: func(c *cli.Context) error {
			id, err := paymentIDArg(c)
			if err != nil {
				return err
			}
			view, err := newClient(c).PaymentStatus(c.Context, id)
			if err != nil {
				return fmt.Errorf("failed to get payment status: %w", err)
			}
			return render(c, view, func(w io.Writer) {
				printPaymentView(w, view)
			})
		},
	}
}

func getPaymentCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show a payment request including its wallet and date range",
		ArgsUsage: "PAYMENT_ID",
		Action: func(c *cli.Context) error {
			id, err := paymentIDArg(c)
			if err != nil {
				return err
			}
			req, err := newClient(c).GetPayment(c.Context, id)
			if err != nil {
				return fmt.Errorf("failed to get payment request: %w", err)
			}
			return render(c, req, func(w io.Writer) {
				view := req.Public()
				printPaymentView(w, &view)
				fmt.Fprintf(w, "Wallet:  %s\n", req.WalletAddress)
				fmt.Fprintf(w, "Range:   %s to %s\n", req.DateRange.Start.Format("2006-01-02"), req.DateRange.End.Format("2006-01-02"))
				fmt.Fprintf(w, "Created: %s\n", req.CreatedAt.Format(time.RFC3339))
			})
		},
	}
}

func awaitPaymentCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Wait for a payment request to settle",
		ArgsUsage: "PAYMENT_ID",
		Description: `Blocks until the payment request is paid or expired, printing each
status change. By default the status endpoint is polled; --sse follows the
server's event stream and --nats reads events straight from JetStream.

--until takes a jq expression evaluated against every status update and
returns as soon as it is truthy, e.g. --until '.status == "paid"'.`,
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Polling interval",
				Value: 5 * time.Second,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up after this long",
				Value: 30 * time.Minute,
			},
			&cli.BoolFlag{
				Name:  "sse",
				Usage: "Follow the server's event stream instead of polling",
			},
			&cli.BoolFlag{
				Name:  "nats",
				Usage: "Read payment events from NATS instead of the server",
			},
			&cli.StringFlag{
				Name:  "until",
				Usage: "jq expression; stop as soon as it is truthy",
			},
		},
		Action: func(c *cli.Context) error {
			id, err := paymentIDArg(c)
			if err != nil {
				return err
			}
			if c.Bool("sse") && c.Bool("nats") {
				return fmt.Errorf("--sse and --nats are mutually exclusive")
			}

			var until *gojq.Code
			if expr := c.String("until"); expr != "" {
				if until, err = compileJQ(expr); err != nil {
					return err
				}
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			w := c.App.Writer
			jsonOutput := c.Bool("json") || c.String("jq") != ""
			fmt.Fprintf(c.App.ErrWriter, "Waiting for payment %s...\n", id)

			switch {
			case c.Bool("nats"):
				logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
				final, err := natspkg.WatchPayment(ctx, c.String("nats-url"), id, logger, eventHandler(c, until))
				return finishWatch(c, final, err)
			case c.Bool("sse"):
				final, err := newClient(c).StreamPaymentEvents(ctx, id, eventHandler(c, until))
				return finishWatch(c, final, err)
			default:
				var matched *payment.PublicView
				pollCtx, stop := context.WithCancel(ctx)
				defer stop()
				final, err := newClient(c).AwaitPayment(pollCtx, id, c.Duration("interval"), func(v *payment.PublicView) {
					if until != nil && matchesJQ(until, v) {
						matched = v
						stop()
						return
					}
					if !jsonOutput {
						fmt.Fprintf(w, "%s  %s\n", time.Now().Format("15:04:05"), colorStatus(string(v.Status)))
					}
				})
				if matched != nil {
					return render(c, matched, func(w io.Writer) { printPaymentView(w, matched) })
				}
				if err != nil {
					if errors.Is(err, context.DeadlineExceeded) {
						return fmt.Errorf("timed out waiting for payment %s", id)
					}
					return fmt.Errorf("failed to await payment: %w", err)
				}
				return render(c, final, func(w io.Writer) { printPaymentView(w, final) })
			}
		},
	}
}

// eventHandler prints intermediate events and stops the watch when until
// matches.
func eventHandler(c *cli.Context, until *gojq.Code) func(*natspkg.PaymentEvent) error {
	jsonOutput := c.Bool("json") || c.String("jq") != ""
	return func(e *natspkg.PaymentEvent) error {
		if until != nil && matchesJQ(until, e) {
			return errConditionMet
		}
		if !jsonOutput && !e.Terminal() {
			fmt.Fprintf(c.App.Writer, "%s  %s\n", e.PublishedAt.Local().Format("15:04:05"), colorStatus(e.Status))
		}
		return nil
	}
}

func finishWatch(c *cli.Context, final *natspkg.PaymentEvent, err error) error {
	if err != nil && !errors.Is(err, errConditionMet) {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("timed out waiting for payment")
		}
		return fmt.Errorf("failed to watch payment: %w", err)
	}
	return render(c, final, func(w io.Writer) {
		fmt.Fprintf(w, "Payment %s: %s\n", final.RequestID, colorStatus(final.Status))
		if final.TransactionSignature != "" {
			fmt.Fprintf(w, "Signature: %s\n", final.TransactionSignature)
		}
	})
}

func paymentIDArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one argument: PAYMENT_ID")
	}
	return c.Args().First(), nil
}

func printPaymentView(w io.Writer, v *payment.PublicView) {
	fmt.Fprintf(w, "Payment: %s\n", v.ID)
	fmt.Fprintf(w, "Status:  %s\n", colorStatus(string(v.Status)))
	fmt.Fprintf(w, "Export:  %s\n", v.ExportType)
	fmt.Fprintf(w, "Amount:  %s SOL to %s\n", v.Amount.String(), v.PaymentAddress)
	fmt.Fprintf(w, "Expires: %s\n", v.ExpiresAt.Format(time.RFC3339))
	if v.TransactionSignature != "" {
		fmt.Fprintf(w, "Signature: %s\n", v.TransactionSignature)
	}
}
