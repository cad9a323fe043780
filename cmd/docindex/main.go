// Package main implements the docindex CLI for manual operations against the
// docindexd HTTP server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/articler/docindex/internal/http"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// options are the global flags shared by every remote command.
type options struct {
	server  string
	user    string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "docindex",
		Short: "CLI for docindexd document ingestion and search",
		Long: `docindex is a command-line interface for the docindexd HTTP server.
It adds text and PDF documents to a project, searches them, and manages
the caller's token account.`,
		Version:      version,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.server, "server", envOr("DOCINDEX_SERVER", "http://localhost:8080"), "docindexd server URL")
	root.PersistentFlags().StringVar(&opts.user, "user", os.Getenv("DOCINDEX_USER"), "caller user ID (sent as X-User-ID)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "request timeout")

	root.AddCommand(
		newChunkCmd(),
		newAddTextCmd(opts),
		newAddPDFCmd(opts),
		newSearchCmd(opts),
		newListCmd(opts),
		newRemoveCmd(opts),
		newAccountCmd(opts),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// client talks JSON to docindexd.
type client struct {
	base string
	user string
	http *http.Client
}

func (o *options) client() (*client, error) {
	if strings.TrimSpace(o.user) == "" {
		return nil, fmt.Errorf("--user is required")
	}
	return &client{
		base: strings.TrimRight(o.server, "/"),
		user: o.user,
		http: &http.Client{Timeout: o.timeout},
	}, nil
}

// statusError is returned for replies outside 2xx.
type statusError struct {
	code    int
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.code, e.message)
}

// do sends in as JSON (when non-nil) and decodes the reply into out. A 402
// reply is decoded into out as well, since it carries the budget outcome.
func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	url := c.base + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(httpapi.HeaderUserID, c.user)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPaymentRequired && out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e httpapi.ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &statusError{code: resp.StatusCode, message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
