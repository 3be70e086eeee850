// Package terminal implements the command-line interface (CLI) mode for the dealgate agent.
//
// The terminal sends each line the user types as a chat request, prints the
// streamed answer and keeps the conversation history between turns. When a
// tool needs confirmation it asks the user and, on approval, sends the
// confirmed action back to the agent.
//
// # Usage
//
//	term := terminal.New(a, terminal.ModePrompt, terminal.ToolVerbosityInfo, os.Stdin, os.Stdout)
//	err := term.Run(ctx, initialPrompt)
//
// # Modes
//
//   - Prompt mode: the user answers y/n for every confirmation
//   - Auto mode: confirmations are approved without asking
//
// # Verbosity Levels
//
//   - None: only the assistant's answers are printed
//   - Info: tool names are printed when called
//   - All: tool arguments, outcomes, routing and usage are printed too
//
// Exit with /quit, /exit or end of input.
package terminal
