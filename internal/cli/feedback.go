package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"supportrag/internal/adapter/store"
	"supportrag/internal/domain"

	"supportrag/config"
)

var (
	feedbackUp   bool
	feedbackDown bool
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback <answer-id>",
	Short: "Record thumbs-up/down feedback on an answer",
	Long: `Append a feedback vote for a previously produced answer. The log is
append-only; votes never modify the answer itself.

Examples:
  supportrag feedback 1a2b3c4d5e6f7081 --up
  supportrag feedback 1a2b3c4d5e6f7081 --down`,
	Args: cobra.ExactArgs(1),
	RunE: runFeedback,
}

func init() {
	rootCmd.AddCommand(feedbackCmd)
	feedbackCmd.Flags().BoolVar(&feedbackUp, "up", false, "thumbs up")
	feedbackCmd.Flags().BoolVar(&feedbackDown, "down", false, "thumbs down")
	feedbackCmd.MarkFlagsMutuallyExclusive("up", "down")
}

func runFeedback(cmd *cobra.Command, args []string) error {
	if !feedbackUp && !feedbackDown {
		return fmt.Errorf("specify --up or --down")
	}

	st, err := store.OpenBoltStore(config.MetaDBPath(GetRootDir()))
	if err != nil {
		return fmt.Errorf("no knowledge base found. Run 'supportrag ingest' first")
	}
	defer st.Close()

	vote := domain.VoteUp
	if feedbackDown {
		vote = domain.VoteDown
	}

	answerID := args[0]
	if err := st.RecordFeedback(domain.Feedback{
		AnswerID:  answerID,
		Vote:      vote,
		CreatedAt: time.Now(),
	}); err != nil {
		return err
	}

	counts, err := st.FeedbackCounts(answerID)
	if err != nil {
		return err
	}
	fmt.Printf("Recorded. Answer %s now has %d up / %d down.\n", answerID, counts.Up, counts.Down)
	return nil
}
