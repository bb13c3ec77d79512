package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lugma-dev/lugma/internal/errors"
	"github.com/lugma-dev/lugma/pkg/protocol"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ┬  ┬ ┬┌─┐┌┬┐┌─┐
  │  │ ││ ┬│││├─┤
  ┴─┘└─┘└─┘┴ ┴┴ ┴
`

func main() {
	cmd, err := newRootCmd().ExecuteC()
	if err != nil {
		errors.FprintStyle(os.Stderr, errors.Classify(err, errors.CategoryCLI), errorStyle(cmd))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lugma",
		Short: "Run and talk to Lugma services",
		Long: `Lugma is an RPC runtime: unary calls over HTTP POST and named
events over WebSocket streams.

  • serve   host the Chat example service from lugma.yaml
  • call    make a unary call and print the result
  • listen  open an event stream and print its events`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("error-format")
			_, err := errors.ParseStyle(name)
			return err
		},
	}
	rootCmd.PersistentFlags().String("error-format", string(errors.StylePretty),
		"How errors are printed: pretty, compact or json")

	rootCmd.AddCommand(
		serveCmd(),
		callCmd(),
		listenCmd(),
		versionCmd(),
	)
	return rootCmd
}

func printBanner(w io.Writer) {
	fmt.Fprint(w, banner)
}

// info prints an info message.
func info(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}

// errorStyle returns the --error-format chosen for cmd, falling back to
// pretty when the flag is unset or invalid.
func errorStyle(cmd *cobra.Command) errors.Style {
	if cmd == nil {
		return errors.StylePretty
	}
	name, _ := cmd.Flags().GetString("error-format")
	style, err := errors.ParseStyle(name)
	if err != nil {
		return errors.StylePretty
	}
	return style
}

// parseHeaders turns -H key=value flags into metadata.
func parseHeaders(headers []string) (*protocol.Metadata, error) {
	md := protocol.NewMetadata()
	for _, h := range headers {
		key, value, ok := strings.Cut(h, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.New("L401").WithDetail(fmt.Sprintf("%q is not key=value", h))
		}
		md.Set(key, value)
	}
	return md, nil
}
