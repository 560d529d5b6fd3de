package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"supportrag/config"
)

var (
	cfgFile string
	cfg     *config.Config
	rootDir string
)

var rootCmd = &cobra.Command{
	Use:   "supportrag",
	Short: "Support docs assistant - ingest documents and ask grounded questions",
	Long: `supportrag ingests internal support documents into a local vector index
and answers natural-language questions grounded in those documents,
with citations and a confidence indicator.

Example usage:
  supportrag ingest ./docs              # Index support documents
  supportrag ask -q "refund policy?"    # Ask a grounded question
  supportrag feedback <answer-id> --up  # Record feedback on an answer`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		// API keys live in .env during development.
		godotenv.Load()

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := cfg.Validate(); err != nil {
			return err
		}

		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./supportrag.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "knowledge base directory (default is current directory)")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}
