package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ghlabs/embedsrv/internal/github"
	"github.com/ghlabs/embedsrv/internal/pipeline"
	"github.com/ghlabs/embedsrv/internal/pubsub"
)

var (
	embedFull    bool
	embedState   string
	embedWorkers int
	embedIssue   int
)

var embedCmd = &cobra.Command{
	Use:   "embed <owner/repo>",
	Short: "Bulk-embed all issues of a repository",
	Long: `Fetches every issue of the repository through the GitHub API and embeds
the ones whose content changed since the last run. Unchanged issues keep
their stored vectors. Use --full to ignore the stored watermark and
refetch everything.`,
	Args: cobra.ExactArgs(1),
	RunE: runEmbed,
}

func init() {
	embedCmd.Flags().BoolVar(&embedFull, "full", false, "refetch all issues, ignoring the stored watermark")
	embedCmd.Flags().StringVar(&embedState, "state", "all", "issue state filter: open, closed, or all")
	embedCmd.Flags().IntVar(&embedWorkers, "workers", 0, "number of concurrent embedding workers (overrides config)")
	embedCmd.Flags().IntVar(&embedIssue, "issue", 0, "embed a single issue by number instead of the whole repo")
	rootCmd.AddCommand(embedCmd)
}

func runEmbed(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	owner, repoName, err := github.ParseRepo(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	c, err := initComponents(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing components: %w", err)
	}
	defer c.Store.Close()

	p := newPipeline(c, embedWorkers)
	ctx := cmd.Context()

	if embedIssue > 0 {
		if err := p.EmbedIssue(ctx, owner, repoName, embedIssue); err != nil {
			return fmt.Errorf("embedding issue #%d: %w", embedIssue, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Embedded %s/%s#%d\n", owner, repoName, embedIssue)
		return nil
	}

	// Drive a progress bar from broker events while the run executes.
	barCtx, stopBar := context.WithCancel(ctx)
	defer stopBar()
	go renderProgress(barCtx, c.Broker)

	result, err := p.Run(ctx, owner, repoName, pipeline.Options{
		Full:  embedFull,
		State: embedState,
	})
	stopBar()
	if err != nil {
		return fmt.Errorf("bulk embed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n%s: %d candidates, %d embedded, %d skipped, %d failed (%s)\n",
		result.Repo, result.IssuesSeen, result.Embedded, result.Skipped, result.Failed,
		result.Duration.Round(10*time.Millisecond))
	for _, ie := range result.Errors {
		fmt.Fprintf(out, "  #%d: %s\n", ie.Number, ie.Err)
	}
	return nil
}

// renderProgress consumes run events and keeps a progress bar updated until
// the context is cancelled.
func renderProgress(ctx context.Context, broker *pubsub.Broker[pipeline.Progress]) {
	events := broker.Subscribe(ctx)

	var bar *progressBar
	for evt := range events {
		switch evt.Type {
		case pubsub.RunStarted:
			if evt.Payload.Total > 0 {
				bar = newProgressBar(evt.Payload.Total, "embedding", os.Stderr)
			}
		case pubsub.Embedded, pubsub.Skipped, pubsub.Failed:
			if bar != nil {
				bar.Set(evt.Payload.Done)
			}
		case pubsub.RunFinished:
			if bar != nil {
				bar.Finish()
				bar = nil
			}
		}
	}
}
