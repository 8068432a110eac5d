// Package main provides a CLI tool for debugging guide fragments.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/savid/iptv-console/internal/guide"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	fragmentPath string
	sortBy       string
	sortOrder    string
	query        string
	expand       bool
	logLevel     string
	log          = logrus.New()
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Debug guide fragment parsing",
		Long: `A debugging tool that parses a guide fragment the way the console
client does and prints the resulting tree.

Outputs:
- Every channel with its number, name and stream protocols
- Date groups and programs, subject to fold state and search
- Search match counts

Examples:
  # Using a saved fragment
  go run ./cmd/inspect --fragment testdata/guide.html --sort name

  # Searching a live console
  go run ./cmd/inspect --fragment http://localhost:8080/guide --search news`,
		RunE: run,
	}

	rootCmd.Flags().StringVar(&fragmentPath, "fragment", "", "Path or URL to a guide fragment (required)")
	rootCmd.Flags().StringVar(&sortBy, "sort", "number", "Sort criteria (number, name)")
	rootCmd.Flags().StringVar(&sortOrder, "order", "asc", "Sort order (asc, desc)")
	rootCmd.Flags().StringVar(&query, "search", "", "Search query")
	rootCmd.Flags().BoolVar(&expand, "expand", false, "Expand every channel and date")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	if err := rootCmd.MarkFlagRequired("fragment"); err != nil {
		log.WithError(err).Fatal("Failed to mark fragment flag as required")
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadData fetches data from a URL or reads from a local file.
func loadData(ctx context.Context, fs afero.Fs, path string) ([]byte, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := http.DefaultClient.Do(req) //nolint:gosec // User-provided URL for CLI tool
		if err != nil {
			return nil, fmt.Errorf("failed to fetch URL: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("HTTP request failed with status: %s", resp.Status)
		}

		return io.ReadAll(resp.Body)
	}

	return afero.ReadFile(fs, path)
}

func run(cmd *cobra.Command, _ []string) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	criteria, err := guide.ParseSortCriteria(sortBy)
	if err != nil {
		return err
	}

	order, err := guide.ParseSortOrder(sortOrder)
	if err != nil {
		return err
	}

	log.WithField("source", fragmentPath).Info("Loading fragment")

	body, err := loadData(cmd.Context(), afero.NewOsFs(), fragmentPath)
	if err != nil {
		return fmt.Errorf("failed to load fragment: %w", err)
	}

	if !guide.DetectFragment(body) {
		log.Warn("Body does not look like a guide fragment")
	}

	model, err := guide.ParseFragment(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to parse fragment: %w", err)
	}

	log.WithFields(logrus.Fields{
		"channels": len(model.Channels),
		"programs": model.ProgramCount(),
	}).Info("Parsed guide")

	sorted, err := guide.Sort(criteria, order, model.Channels)
	if err != nil {
		return fmt.Errorf("failed to sort: %w", err)
	}

	model = model.WithOrder(sorted)

	if expand {
		for _, ch := range model.Channels {
			ch.Fold = guide.Expanded

			for _, dg := range ch.DateGroups {
				dg.Fold = guide.Expanded
			}
		}
	}

	var filter guide.Filter

	vis := filter.Apply(query, model)

	printTree(os.Stdout, model, guide.Project(model.Channels, vis))

	if query != "" {
		fmt.Printf("\nSearch %q: %d matching programs\n", query, vis.Matches)
	}

	return nil
}

func printTree(w io.Writer, model *guide.Model, nodes []guide.Node) {
	for _, n := range nodes {
		if !n.Visible {
			continue
		}

		indent := strings.Repeat("  ", n.Depth/2)

		switch n.Kind {
		case guide.KindChannel:
			ch, _ := model.Channel(n.ChannelID)
			fmt.Fprintf(w, "%s[%s] %s %s\n", indent, n.Fold, n.Text, protocols(ch))
		case guide.KindDate:
			fmt.Fprintf(w, "%s[%s] %s\n", indent, n.Fold, n.Text)
		case guide.KindProgram:
			fmt.Fprintf(w, "%s%s\n", indent, n.Text)
		case guide.KindNoResults:
			fmt.Fprintln(w, n.Text)
		}
	}
}

func protocols(ch *guide.Channel) string {
	if ch == nil || len(ch.Sources) == 0 {
		return ""
	}

	names := make([]string, 0, len(ch.Sources))
	for _, p := range []string{guide.ProtocolHLS, guide.ProtocolRTMP} {
		if _, ok := ch.Sources[p]; ok {
			names = append(names, p)
		}
	}

	return "(" + strings.Join(names, ", ") + ")"
}
