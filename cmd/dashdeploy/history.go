package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/daas8085/dashdeploy/internal/core/domain"
	"github.com/daas8085/dashdeploy/internal/shell/store"
)

// =============================================================================
// history
// =============================================================================

var historyFlags struct {
	limit       int
	environment string
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent releases",
	Long: `History lists recent releases from the release history, most recent
first. Failed releases show the failing step's error in place of the
endpoint.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyFlags.limit, "limit", 20, "Maximum number of releases to show")
	historyCmd.Flags().StringVar(&historyFlags.environment, "environment", "", "Only show releases for this environment")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(rootFlags.configPath)
	if err != nil {
		return &exitError{Code: ExitConfigError, Err: err}
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	opts := store.ListOptions{Limit: historyFlags.limit}

	var releases []domain.Release
	if historyFlags.environment != "" {
		releases, err = st.ListReleasesByEnvironment(ctx, historyFlags.environment, opts)
	} else {
		releases, err = st.ListReleases(ctx, opts)
	}
	if err != nil {
		return &exitError{Code: ExitStoreError, Err: err}
	}

	renderHistory(cmd.OutOrStdout(), releases)
	return nil
}

// =============================================================================
// Rendering
// =============================================================================

// renderHistory writes releases as a plain-text table, one line per release.
func renderHistory(w io.Writer, releases []domain.Release) {
	if len(releases) == 0 {
		fmt.Fprintln(w, "no releases recorded")
		return
	}

	fmt.Fprintf(w, "%-10s %-17s %-12s %-14s %-10s %-9s %s\n",
		"ID", "CREATED", "ENVIRONMENT", "TAG", "STATUS", "DURATION", "RESULT")

	for _, r := range releases {
		result := r.Endpoint
		if r.Status == domain.ReleaseFailed {
			result = r.ErrorMessage
		}

		fmt.Fprintf(w, "%-10s %-17s %-12s %-14s %-10s %-9s %s\n",
			shortID(r.ID),
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.Environment,
			truncate(r.Tag, 14),
			r.Status,
			releaseDuration(r),
			result,
		)
	}
}

// shortID abbreviates a release UUID for table display.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

// releaseDuration formats the run duration, or "-" when the release never
// reached a terminal state.
func releaseDuration(r domain.Release) string {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return "-"
	}
	return r.FinishedAt.Sub(*r.StartedAt).Round(time.Second).String()
}
