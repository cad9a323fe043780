package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/articler/docindex/internal/budget"
	"github.com/articler/docindex/internal/chunker"
	httpapi "github.com/articler/docindex/internal/http"
	"github.com/articler/docindex/internal/ingest"
)

func readInput(cmd *cobra.Command, arg string) (string, error) {
	var (
		content []byte
		err     error
	)
	if arg == "" || arg == "-" {
		content, err = io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(arg)
		if err != nil {
			return "", fmt.Errorf("failed to read file %s: %w", arg, err)
		}
	}
	return string(content), nil
}

func parseProject(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid project id %q", s)
	}
	return id, nil
}

func projectPath(project uuid.UUID, rest string) string {
	return "/api/v1/projects/" + project.String() + rest
}

// newChunkCmd previews chunking locally without contacting the server.
func newChunkCmd() *cobra.Command {
	var size, overlap int
	var countOnly bool

	cmd := &cobra.Command{
		Use:   "chunk [file]",
		Short: "Split a file into overlapping chunks locally",
		Long: `Split a file (or stdin) into the chunks docindexd would embed.

Examples:
  # Preview chunks of a file
  docindex chunk notes.txt

  # Count chunks with a smaller window
  docindex chunk --size 500 --overlap 50 --count notes.txt`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arg := ""
			if len(args) > 0 {
				arg = args[0]
			}
			text, err := readInput(cmd, arg)
			if err != nil {
				return err
			}
			chunks, err := chunker.Chunk(text, size, overlap)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if countOnly {
				fmt.Fprintln(out, len(chunks))
				return nil
			}
			for i, c := range chunks {
				fmt.Fprintf(out, "--- chunk %d (%d chars) ---\n%s\n", i+1, len([]rune(c)), c)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "size", chunker.DefaultSize, "chunk size in characters")
	cmd.Flags().IntVar(&overlap, "overlap", chunker.DefaultOverlap, "characters shared by consecutive chunks")
	cmd.Flags().BoolVar(&countOnly, "count", false, "print only the number of chunks")
	return cmd
}

func printOutcome(cmd *cobra.Command, out ingest.Outcome) error {
	w := cmd.OutOrStdout()
	if out.Status != budget.StatusSuccess {
		return fmt.Errorf("document not added: %s", out.Status)
	}
	fmt.Fprintf(w, "Added %s document %q\n", out.Document.Type, out.Document.Title)
	fmt.Fprintf(w, "Document ID: %s\n", out.Document.ID)
	if out.Remaining == budget.Unlimited {
		fmt.Fprintln(w, "Remaining:   unlimited")
	} else {
		fmt.Fprintf(w, "Remaining:   %d\n", out.Remaining)
	}
	return nil
}

func newAddTextCmd(opts *options) *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "add-text <project> [file]",
		Short: "Add a text document to a project",
		Long: `Add a text document from a file or stdin.

Examples:
  docindex add-text --user alice --title "Meeting notes" $PROJECT notes.txt
  cat notes.txt | docindex add-text --user alice --title notes $PROJECT -`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := parseProject(args[0])
			if err != nil {
				return err
			}
			arg := ""
			if len(args) > 1 {
				arg = args[1]
			}
			text, err := readInput(cmd, arg)
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			var out ingest.Outcome
			err = c.do(cmd.Context(), "POST", projectPath(project, "/documents/text"),
				httpapi.AddTextRequest{Title: title, Text: text}, &out)
			if err != nil {
				return err
			}
			return printOutcome(cmd, out)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "document title")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newAddPDFCmd(opts *options) *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "add-pdf <project> <url>",
		Short: "Add a PDF document by URL",
		Long: `Ask the server to download a PDF and add its text.

Examples:
  docindex add-pdf --user alice --title "Annual report" $PROJECT https://example.com/report.pdf`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := parseProject(args[0])
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			var out ingest.Outcome
			err = c.do(cmd.Context(), "POST", projectPath(project, "/documents/pdf"),
				httpapi.AddPDFRequest{Title: title, URL: args[1]}, &out)
			if err != nil {
				return err
			}
			return printOutcome(cmd, out)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "document title")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newSearchCmd(opts *options) *cobra.Command {
	var (
		top      int
		document string
		title    string
	)

	cmd := &cobra.Command{
		Use:   "search <project> <query...>",
		Short: "Search a project's documents",
		Long: `Return the chunks most similar to the query, best first.

Examples:
  docindex search --user alice $PROJECT "quarterly revenue"
  docindex search --user alice --top 5 --title "Annual report" $PROJECT revenue`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := parseProject(args[0])
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			var resp httpapi.SearchResponse
			err = c.do(cmd.Context(), "POST", projectPath(project, "/search"), httpapi.SearchRequest{
				Query:      strings.Join(args[1:], " "),
				Top:        top,
				DocumentID: document,
				Title:      title,
			}, &resp)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(resp.Results) == 0 {
				fmt.Fprintln(w, "No results")
				return nil
			}
			for i, r := range resp.Results {
				fmt.Fprintf(w, "[%d] %s\n", i+1, r)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&top, "top", 0, "number of results (server default when 0)")
	cmd.Flags().StringVar(&document, "document", "", "restrict to one document ID")
	cmd.Flags().StringVar(&title, "title", "", "restrict to documents with this title")
	return cmd
}

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list <project>",
		Short: "List a project's documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := parseProject(args[0])
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			var resp httpapi.DocumentsResponse
			if err := c.do(cmd.Context(), "GET", projectPath(project, "/documents"), nil, &resp); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, d := range resp.Documents {
				fmt.Fprintf(w, "%s  %-4s  %s\n", d.ID, d.Type, d.Title)
			}
			fmt.Fprintf(w, "%d document(s)\n", len(resp.Documents))
			return nil
		},
	}
}

func newRemoveCmd(opts *options) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "remove <project> [document]",
		Short: "Remove a document, or every document with --all",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := parseProject(args[0])
			if err != nil {
				return err
			}
			if all == (len(args) == 2) {
				return fmt.Errorf("give either a document ID or --all")
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if all {
				var resp httpapi.DocumentsResponse
				if err := c.do(cmd.Context(), "DELETE", projectPath(project, ""), nil, &resp); err != nil {
					return err
				}
				fmt.Fprintf(w, "Removed %d document(s)\n", len(resp.Documents))
				return nil
			}
			doc, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid document id %q", args[1])
			}
			var removed struct {
				Title string `json:"title"`
			}
			if err := c.do(cmd.Context(), "DELETE", projectPath(project, "/documents/"+doc.String()), nil, &removed); err != nil {
				return err
			}
			fmt.Fprintf(w, "Removed %q\n", removed.Title)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "remove every document in the project")
	return cmd
}

func newAccountCmd(opts *options) *cobra.Command {
	var tier string

	cmd := &cobra.Command{
		Use:   "account",
		Short: "Show the caller's account, or set its tier with --tier",
		Long: `Show the caller's tier and token balance.

Examples:
  docindex account --user alice
  docindex account --user alice --tier trial`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			var resp httpapi.AccountResponse
			if tier != "" {
				if _, err := budget.ParseTier(tier); err != nil {
					return err
				}
				err = c.do(cmd.Context(), "PUT", "/api/v1/accounts", httpapi.AccountRequest{Tier: tier}, &resp)
			} else {
				err = c.do(cmd.Context(), "GET", "/api/v1/accounts", nil, &resp)
			}
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "User:    %s\n", resp.UserID)
			fmt.Fprintf(w, "Tier:    %s\n", resp.Tier)
			if resp.Balance == budget.Unlimited {
				fmt.Fprintln(w, "Balance: unlimited")
			} else {
				fmt.Fprintf(w, "Balance: %d\n", resp.Balance)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tier, "tier", "", "set the tier (free, trial, paid, super)")
	return cmd
}
