package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/brojonat/soltax/client"
	"github.com/fatih/color"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// newClient builds an API client from the global flags. Logs go to stderr
// and only errors are shown.
func newClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return client.NewClient(c.String("server"), nil, logger)
}

// render writes v as JSON when --json or --jq is set and calls human
// otherwise.
func render(c *cli.Context, v any, human func(w io.Writer)) error {
	w := c.App.Writer
	if filter := c.String("jq"); filter != "" {
		code, err := compileJQ(filter)
		if err != nil {
			return err
		}
		results, err := runJQ(code, v)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		for _, r := range results {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}
	if c.Bool("json") {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human(w)
	return nil
}

func compileJQ(filter string) (*gojq.Code, error) {
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}
	return code, nil
}

// runJQ evaluates code against v after a JSON round trip, which turns
// structs and decimals into the plain values gojq accepts.
func runJQ(code *gojq.Code, v any) ([]any, error) {
	input, err := toJQInput(v)
	if err != nil {
		return nil, err
	}
	var out []any
	iter := code.Run(input)
	for {
		r, ok := iter.Next()
		if !ok {
			return out, nil
		}
		if err, isErr := r.(error); isErr {
			return nil, fmt.Errorf("jq filter error: %w", err)
		}
		out = append(out, r)
	}
}

func toJQInput(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode jq input: %w", err)
	}
	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("failed to decode jq input: %w", err)
	}
	return input, nil
}

// matchesJQ reports whether the first result of code against v is truthy.
// Evaluation errors count as no match.
func matchesJQ(code *gojq.Code, v any) bool {
	results, err := runJQ(code, v)
	if err != nil || len(results) == 0 {
		return false
	}
	return isTruthy(results[0])
}

func isTruthy(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	// Everything else (numbers, strings, objects, arrays) is truthy
	return true
}

// colorStatus colours a payment or transaction status for terminal output.
func colorStatus(status string) string {
	switch status {
	case "paid", "success":
		return color.GreenString(status)
	case "pending":
		return color.YellowString(status)
	case "expired":
		return color.MagentaString(status)
	case "failed":
		return color.RedString(status)
	default:
		return status
	}
}
