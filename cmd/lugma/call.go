package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lugma-dev/lugma/internal/config"
	"github.com/lugma-dev/lugma/internal/errors"
	"github.com/lugma-dev/lugma/pkg/transport"
)

func callCmd() *cobra.Command {
	var (
		headers []string
		baseURL string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "call <endpoint> [json]",
		Short: "Make a unary call",
		Long: `Make a unary call and print the JSON result.

The body defaults to {}. A remote error prints its payload and exits 1.

Examples:
  lugma call Example.lugma/Chat/SendMessage '{"message":{"id":"1"}}' -H role=admin
  lugma call Example.lugma/Chat/SendMessage --base-url http://localhost:9000`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := "{}"
			if len(args) == 2 {
				body = args[1]
			}
			return runCall(cmd, args[0], body, headers, baseURL, timeout)
		},
	}

	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Metadata pair key=value (repeatable)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Server base URL (default from lugma.yaml or LUGMA_BASE_URL)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Call timeout")

	return cmd
}

func runCall(cmd *cobra.Command, endpoint, body string, headers []string, baseURL string, timeout time.Duration) error {
	if !json.Valid([]byte(body)) {
		return errors.New("L402").WithDetail(fmt.Sprintf("%q is not valid JSON", body))
	}
	md, err := parseHeaders(headers)
	if err != nil {
		return err
	}

	t, err := transport.New(resolveBaseURL(baseURL))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	raw, err := t.MakeRequest(ctx, endpoint, json.RawMessage(body), md)
	if err != nil {
		return err
	}
	return printJSON(cmd, raw)
}

func printJSON(cmd *cobra.Command, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		buf.Reset()
		buf.Write(raw)
	}
	buf.WriteByte('\n')
	_, err := cmd.OutOrStdout().Write(buf.Bytes())
	return err
}

// resolveBaseURL picks the flag, then lugma.yaml in the working tree (with
// LUGMA_BASE_URL applied), then the default.
func resolveBaseURL(flag string) string {
	if flag != "" {
		return flag
	}
	if root, err := config.FindProjectRoot("."); err == nil {
		if cfg, err := config.Load(root); err == nil {
			return cfg.Client.BaseURL
		}
	}
	cfg := config.Default()
	cfg.ApplyEnv()
	return cfg.Client.BaseURL
}
