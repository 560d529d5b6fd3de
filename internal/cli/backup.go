package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"supportrag/config"
	"supportrag/internal/adapter/index"
	"supportrag/internal/adapter/store"
)

var backupCmd = &cobra.Command{
	Use:   "backup <dest-dir>",
	Short: "Write a consistent copy of the knowledge base for backup",
	Long: `Snapshot the vector index and metadata store into the destination
directory. Each file is written to a temp file and atomically renamed, so a
failed backup never leaves a partial artifact.`,
	Args: cobra.ExactArgs(1),
	RunE: runBackup,
}

func init() {
	rootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	dir := GetRootDir()

	dest, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}

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

	if err := ix.Snapshot(filepath.Join(dest, "vectors.db")); err != nil {
		return err
	}
	if err := st.Snapshot(filepath.Join(dest, "meta.db")); err != nil {
		return err
	}

	fmt.Printf("Backup written to %s.\n", dest)
	return nil
}
