package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
)

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Action: func(c *cli.Context) error {
			server := c.String("server")
			if err := newClient(c).Health(c.Context); err != nil {
				return fmt.Errorf("server %s is unhealthy: %w", server, err)
			}
			out := map[string]string{"server": server, "status": "ok"}
			return render(c, out, func(w io.Writer) {
				fmt.Fprintf(w, "%s %s\n", server, color.GreenString("ok"))
			})
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			out := map[string]string{"version": version, "commit": commit, "date": date}
			return render(c, out, func(w io.Writer) {
				fmt.Fprintf(w, "soltax %s\n", version)
				fmt.Fprintf(w, "  commit: %s\n", commit)
				fmt.Fprintf(w, "  built:  %s\n", date)
			})
		},
	}
}
