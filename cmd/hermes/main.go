// Command hermes is the operator CLI for the hermes daemon.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/drewfead/hermes/internal/config"
	"github.com/drewfead/hermes/internal/control"
	"github.com/spf13/cobra"
)

var cfg *config.Config

func main() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getClient() (*control.Client, error) {
	return control.NewClient(cfg.Daemon.Socket)
}

var rootCmd = &cobra.Command{
	Use:   "hermes",
	Short: "Operator CLI for the hermes daemon",
	Long: `hermes - drive agent sessions through the hermes daemon.

Each conversation key owns one persistent agent session with its own
workspace. Messages run as jobs; at most one job per conversation runs
at a time.

Examples:
  hermes                              # Status summary
  hermes send slack:C1:t1 "fix the flaky test"
  hermes send -w slack:C1:t1 "explain this panic"
  hermes sessions                     # Live sessions
  hermes jobs                         # Tracked jobs
  hermes approve slack:C1:t1 per_abc  # Answer a tool approval`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus()
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <key> <text...>",
	Short: "Submit a message to a conversation's session",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		watch, _ := cmd.Flags().GetBool("watch")
		return runSend(args[0], user, strings.Join(args[1:], " "), watch)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <key>",
	Short: "Cancel the queued and running jobs for a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCancel(args[0])
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List tracked jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobs()
	},
}

var jobCmd = &cobra.Command{
	Use:   "job <id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(args[0])
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List live sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessions()
	},
}

var endCmd = &cobra.Command{
	Use:   "end <key>",
	Short: "End a conversation's session and delete its workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEnd(args[0])
	},
}

var newCmd = &cobra.Command{
	Use:   "new <key>",
	Short: "Replace a conversation's session with a fresh one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNew(args[0])
	},
}

var modelCmd = &cobra.Command{
	Use:   "model <key> <model>",
	Short: "Switch the model for a conversation's next messages",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runModel(args[0], args[1])
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models the runtime can serve",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runModels()
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <key> <request-id>",
	Short: "Approve a pending tool call",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		always, _ := cmd.Flags().GetBool("always")
		return runDecide(args[0], args[1], always, false)
	},
}

var denyCmd = &cobra.Command{
	Use:   "deny <key> <request-id>",
	Short: "Deny a pending tool call",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDecide(args[0], args[1], false, true)
	},
}

var loginCmd = &cobra.Command{
	Use:   "login [provider]",
	Short: "Run a provider login flow on the daemon host",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider := ""
		if len(args) > 0 {
			provider = args[0]
		}
		return runLogin(provider)
	},
}

func init() {
	sendCmd.Flags().StringP("user", "u", "", "User ID to attribute the message to")
	sendCmd.Flags().BoolP("watch", "w", false, "Stay attached and stream progress until the job finishes")

	approveCmd.Flags().Bool("always", false, "Remember the approval for this tool in this session")

	rootCmd.AddCommand(sendCmd, cancelCmd, jobsCmd, jobCmd, sessionsCmd,
		endCmd, newCmd, modelCmd, modelsCmd, approveCmd, denyCmd, loginCmd)
}
