package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lugma-dev/lugma/internal/errors"
	"github.com/lugma-dev/lugma/pkg/protocol"
	"github.com/lugma-dev/lugma/pkg/stream"
	"github.com/lugma-dev/lugma/pkg/transport"
)

func listenCmd() *cobra.Command {
	var (
		headers []string
		events  []string
		baseURL string
	)

	cmd := &cobra.Command{
		Use:   "listen <endpoint>",
		Short: "Open an event stream and print its events",
		Long: `Open an event stream and print the named events as JSON lines.

Lines read from stdin are sent on the stream. Each line is an event
name followed by its JSON content:

  chat {"text":"hi"}

Examples:
  lugma listen Example.lugma/Chat --event MessageReceived -H user=ana`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListen(cmd, args[0], events, headers, baseURL)
		},
	}

	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Handshake metadata key=value (repeatable)")
	cmd.Flags().StringArrayVarP(&events, "event", "e", nil, "Event to print (repeatable)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Server base URL (default from lugma.yaml or LUGMA_BASE_URL)")
	cmd.MarkFlagRequired("event")

	return cmd
}

func runListen(cmd *cobra.Command, endpoint string, events, headers []string, baseURL string) error {
	md, err := parseHeaders(headers)
	if err != nil {
		return err
	}
	t, err := transport.New(resolveBaseURL(baseURL))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := t.OpenStream(ctx, endpoint, md)
	if err != nil {
		return err
	}
	defer s.Close()

	out := &lineWriter{w: cmd.OutOrStdout()}
	for _, event := range events {
		event := event
		s.Subscribe(event, func(content json.RawMessage) {
			out.writeEvent(event, content)
		})
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		style := errorStyle(cmd)
		return sendLines(ctx, s, cmd.InOrStdin(), func(err error) {
			errors.FprintStyle(cmd.ErrOrStderr(), err, style)
		})
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			s.Close()
			return nil
		case <-s.Done():
			return s.Err()
		}
	})
	return g.Wait()
}

type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lineWriter) writeEvent(kind string, content json.RawMessage) {
	data, err := json.Marshal(protocol.EventFrame{Kind: kind, Content: content})
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(append(data, '\n'))
}

// sendLines sends each "event {json}" line from in until in is exhausted or
// ctx is done or the stream closes. Malformed lines are passed to report and
// skipped. The
// scanner runs on its own goroutine since a read cannot be interrupted.
func sendLines(ctx context.Context, s *stream.Stream, in io.Reader, report func(error)) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), protocol.MaxFrameSize)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			event, content, err := parseEventLine(line)
			if err != nil {
				report(err)
				continue
			}
			if event == "" {
				continue
			}
			if err := s.Send(event, content); err != nil {
				return err
			}
		}
	}
}

// parseEventLine splits `name {json}`. Blank lines yield an empty name;
// content defaults to null.
func parseEventLine(line string) (string, json.RawMessage, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil, nil
	}
	event, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		rest = "null"
	}
	if !json.Valid([]byte(rest)) {
		return "", nil, errors.New("L403").WithDetail(fmt.Sprintf("%q: content is not valid JSON", line))
	}
	return event, json.RawMessage(rest), nil
}
