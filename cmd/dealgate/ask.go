package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/m4xw311/dealgate/agent/terminal"
	"github.com/m4xw311/dealgate/errors"
)

var (
	askMode      string
	askVerbosity string
	askUser      string
)

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Chat with the agent in the terminal",
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askMode, "mode", "m", "prompt", "Confirmation mode: 'prompt' or 'auto'")
	askCmd.Flags().StringVar(&askVerbosity, "tool-verbosity", "none", "Tool verbosity level: 'none', 'info', or 'all'")
	askCmd.Flags().StringVar(&askUser, "user", os.Getenv("USER"), "User id recorded with usage")
}

func parseAskFlags(mode, verbosity string) (terminal.Mode, terminal.ToolVerbosity, error) {
	var m terminal.Mode
	switch mode {
	case "prompt":
		m = terminal.ModePrompt
	case "auto":
		m = terminal.ModeAuto
	default:
		return "", "", errors.New("invalid mode '%s'. Must be 'auto' or 'prompt'", mode)
	}

	var v terminal.ToolVerbosity
	switch verbosity {
	case "none":
		v = terminal.ToolVerbosityNone
	case "info":
		v = terminal.ToolVerbosityInfo
	case "all":
		v = terminal.ToolVerbosityAll
	default:
		return "", "", errors.New("invalid tool verbosity '%s'. Must be 'none', 'info', or 'all'", verbosity)
	}
	return m, v, nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	mode, verbosity, err := parseAskFlags(askMode, askVerbosity)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	term := terminal.New(a.agent, mode, verbosity, cmd.InOrStdin(), cmd.OutOrStdout())
	term.Caller.UserID = askUser
	return term.Run(cmd.Context(), strings.Join(args, " "))
}
