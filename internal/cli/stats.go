package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"supportrag/config"
	"supportrag/internal/adapter/index"
	"supportrag/internal/adapter/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge base statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	dir := GetRootDir()

	st, err := store.OpenBoltStore(config.MetaDBPath(dir))
	if err != nil {
		return fmt.Errorf("no knowledge base found. Run 'supportrag ingest' first")
	}
	defer st.Close()

	ix, err := index.Open(config.VectorDBPath(dir))
	if err != nil {
		return err
	}
	defer ix.Close()

	stats, err := st.GetStats()
	if err != nil {
		return err
	}
	vectors, err := ix.Count()
	if err != nil {
		return err
	}

	fmt.Printf("Documents:       %d\n", stats.TotalDocs)
	fmt.Printf("Chunks:          %d\n", stats.TotalChunks)
	fmt.Printf("Vectors:         %d\n", vectors)
	fmt.Printf("Avg chunk chars: %.0f\n", stats.AvgChunkLen)
	fmt.Printf("Dimension:       %d\n", ix.Dimension())

	docs, err := st.ListDocs()
	if err != nil {
		return err
	}
	if len(docs) > 0 {
		fmt.Println("\nSources:")
		for _, d := range docs {
			fmt.Printf("  %s (%s)\n", d.Source, d.UploadedAt.Format("2006-01-02 15:04"))
		}
	}

	return nil
}
