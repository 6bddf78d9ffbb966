package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ghlabs/embedsrv/internal/embed"
	"github.com/ghlabs/embedsrv/internal/github"
	"github.com/ghlabs/embedsrv/internal/store"
)

var (
	exportOutput string
	exportFormat string
)

var exportCmd = &cobra.Command{
	Use:   "export <owner/repo>",
	Short: "Export the stored embedding set of a repository",
	Long: `Writes the repository's embedding set to a file or stdout. The binary
format holds an entry count, the dimensionality, and one issue number
plus little-endian float32 vector per entry. The json format is the
same data as a JSON document.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default stdout)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "binary", "output format: binary or json")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	owner, repoName, err := github.ParseRepo(args[0])
	if err != nil {
		return err
	}
	if exportFormat != "binary" && exportFormat != "json" {
		return fmt.Errorf("unsupported format %q, want binary or json", exportFormat)
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

	repo, err := c.Store.GetRepoByOwnerRepo(owner, repoName)
	if err != nil {
		return fmt.Errorf("repository %s/%s is not tracked; run embed first", owner, repoName)
	}

	model := c.Service.Model()
	entries, err := c.Store.GetEmbeddingsForRepo(repo.ID, model)
	if err != nil {
		return fmt.Errorf("loading embeddings: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("no embeddings stored for %s/%s with model %s", owner, repoName, model)
	}

	var out io.Writer = cmd.OutOrStdout()
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	dims := c.Service.Dimensions()
	if dims == 0 {
		dims = len(entries[0].Embedding) / 4
	}

	if exportFormat == "json" {
		return exportJSON(out, owner+"/"+repoName, model, dims, entries)
	}

	setEntries := make([]embed.SetEntry, len(entries))
	for i, e := range entries {
		setEntries[i] = embed.SetEntry{Number: e.Number, Vector: e.Embedding}
	}
	if err := embed.WriteSet(out, dims, setEntries); err != nil {
		return fmt.Errorf("writing embedding set: %w", err)
	}

	if exportOutput != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d embeddings to %s\n", len(entries), exportOutput)
	}
	return nil
}

func exportJSON(out io.Writer, repo, model string, dims int, entries []store.IssueEmbedding) error {
	type jsonEntry struct {
		Number    int       `json:"number"`
		Embedding []float32 `json:"embedding"`
	}
	doc := struct {
		Repo       string      `json:"repo"`
		Model      string      `json:"model"`
		Dimensions int         `json:"dimensions"`
		Count      int         `json:"count"`
		Embeddings []jsonEntry `json:"embeddings"`
	}{
		Repo:       repo,
		Model:      model,
		Dimensions: dims,
		Count:      len(entries),
		Embeddings: make([]jsonEntry, len(entries)),
	}
	for i, e := range entries {
		doc.Embeddings[i] = jsonEntry{Number: e.Number, Embedding: embed.DecodeVector(e.Embedding)}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
