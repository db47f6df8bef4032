package cmd

import (
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for the lecture CLI
func NewRootCmd() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:   "lecture",
		Short: "Voice memo lecture pipeline",
		Long: `Lecture Orbis - turns Voice Memos recordings into filed lecture notes.

Recordings dropped into the watched folder are matched to a course by class
schedule, file name or transcript content, summarized by an LLM and stored
for review.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return voicememo.LoadEnvFiles(envFile)
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	rootCmd.AddCommand(NewWatchCmd())
	rootCmd.AddCommand(NewCoursesCmd())
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}
