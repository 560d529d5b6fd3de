package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"supportrag/internal/adapter/cache"
	"supportrag/internal/domain"
	"supportrag/internal/usecase"
)

var (
	askQuestion string
	askTopK     int
	askJSON     bool
)

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Ask a question grounded in the ingested documents",
	Long: `Retrieve the most relevant chunks for the question and synthesize a
grounded answer with citations and a confidence indicator.

Examples:
  supportrag ask -q "How long is the refund window?"
  supportrag ask -q "What is the shipping time?" --top-k 3 --json`,
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&askQuestion, "question", "q", "", "question to ask (required)")
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "number of chunks to retrieve (default from config)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output as JSON")
	askCmd.MarkFlagRequired("question")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return err
	}
	generator, err := buildGenerator(cfg)
	if err != nil {
		return err
	}

	st, ix, err := openKnowledgeBase(GetRootDir(), embedder.Dimension(), false)
	if err != nil {
		if errors.Is(err, domain.ErrIndexLoad) {
			return fmt.Errorf("no knowledge base found. Run 'supportrag ingest' first")
		}
		return err
	}
	defer st.Close()
	defer ix.Close()

	retriever := usecase.NewRetriever(embedder, ix, st, cache.NewRetrievalCache(0, 0), cfg.Retrieval.MinConfidence)
	synth := usecase.NewSynthesizer(retriever, generator, st, cfg.Generation.MaxContextChars)

	topK := cfg.Retrieval.TopK
	if askTopK > 0 {
		topK = askTopK
	}

	answer, err := synth.Ask(context.Background(), askQuestion, topK)
	if err != nil {
		// A failed turn is labeled as such, never a fabricated answer.
		fmt.Printf("ERROR: this question could not be answered: %v\n", err)
		return err
	}

	if askJSON {
		output, _ := json.MarshalIndent(answer, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("%s\n\n", answer.Text)
	fmt.Printf("Confidence: %.0f%%   Answer ID: %s\n", answer.Confidence*100, answer.ID)
	if len(answer.Citations) > 0 {
		fmt.Println("Sources:")
		for i, c := range answer.Citations {
			fmt.Printf("  %d. %s §%d (confidence %.0f%%)\n", i+1, c.Source, c.Position+1, c.Confidence*100)
		}
	}

	return nil
}
