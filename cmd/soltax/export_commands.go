package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/brojonat/soltax/client"
	"github.com/urfave/cli/v2"
)

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Download a paid csv or pdf export",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: append(rangeFlags(),
			&cli.StringFlag{
				Name:  "format",
				Usage: "Export format: csv or pdf",
				Value: "csv",
			},
			&cli.StringFlag{
				Name:     "payment-id",
				Usage:    "Paid payment request covering this export",
				EnvVars:  []string{"SOLTAX_PAYMENT_ID"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output file or directory (defaults to the server's filename in the current directory, - for stdout)",
			},
		),
		Action: func(c *cli.Context) error {
			address, err := walletArg(c)
			if err != nil {
				return err
			}
			f, err := newClient(c).Export(c.Context, c.String("format"), c.String("payment-id"), address, c.String("start"), c.String("end"))
			if err != nil {
				if client.IsPaymentRequired(err) {
					return fmt.Errorf("export is not paid for: %w", err)
				}
				return fmt.Errorf("failed to download export: %w", err)
			}

			if c.String("output") == "-" {
				_, err := c.App.Writer.Write(f.Data)
				return err
			}
			path := outputPath(c.String("output"), f.Filename)
			if err := os.WriteFile(path, f.Data, 0o644); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}

			out := map[string]any{"path": path, "contentType": f.ContentType, "bytes": len(f.Data)}
			return render(c, out, func(w io.Writer) {
				fmt.Fprintf(w, "Wrote %d bytes to %s\n", len(f.Data), path)
			})
		},
	}
}

// outputPath resolves --output against the server-suggested filename. A
// directory gets the filename appended.
func outputPath(output, filename string) string {
	if filename == "" {
		filename = "export"
	}
	filename = filepath.Base(filename)
	if output == "" {
		return filename
	}
	if info, err := os.Stat(output); err == nil && info.IsDir() {
		return filepath.Join(output, filename)
	}
	return output
}
