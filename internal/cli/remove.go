package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"supportrag/internal/adapter/chunker"
	"supportrag/internal/usecase"
)

var removeCmd = &cobra.Command{
	Use:   "remove <source>",
	Short: "Remove an ingested document from the knowledge base",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

func init() {
	rootCmd.AddCommand(removeCmd)
}

func runRemove(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return err
	}

	st, ix, err := openKnowledgeBase(GetRootDir(), embedder.Dimension(), false)
	if err != nil {
		return fmt.Errorf("no knowledge base found. Run 'supportrag ingest' first")
	}
	defer st.Close()
	defer ix.Close()

	chk, err := chunker.New(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	if err != nil {
		return err
	}

	source, err := filepath.Abs(args[0])
	if err != nil {
		source = args[0]
	}

	ingester := usecase.NewIngester(st, ix, chk, embedder, nil)
	if err := ingester.Remove(source); err != nil {
		return err
	}

	fmt.Printf("Removed %s.\n", source)
	return nil
}
