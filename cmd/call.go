package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-client/internal/logging"
)

func newCallCmd() *cobra.Command {
	var (
		argsJSON  string
		asTask    bool
		taskTTL   int64
		rawOutput bool
	)

	cmd := &cobra.Command{
		Use:   "call TOOL",
		Short: "Call one tool and print its result",
		Long: `Connects to the server, calls TOOL once and prints the result as JSON.

The exit status is non-zero when the call fails or the tool reports an error.
With --task the tool is started as a task and only the created task is printed.`,
		Example: `  mcp-client --server local call echo --args '{"text": "hi"}'
  mcp-client --endpoint https://mcp.example.com/mcp call build --task`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var toolArgs map[string]interface{}
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &toolArgs); err != nil {
					return fmt.Errorf("invalid --args JSON: %w", err)
				}
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			// Results go to stdout; keep logs out of the way.
			logger := logging.NewLoggerWithWriter(verbose, !noColor, jsonRPC, os.Stderr)
			setupSignalHandler(cancel, logger)

			client, err := connect(ctx, cmd, logger)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			out := cmd.OutOrStdout()
			if asTask {
				task, err := client.CallToolAsTask(ctx, args[0], toolArgs, taskTTL)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, logging.PrettyJSON(task))
				return err
			}

			result, err := client.CallTool(ctx, args[0], toolArgs)
			if err != nil {
				return err
			}

			if rawOutput {
				for _, content := range result.Content {
					if content.Text != "" {
						_, _ = fmt.Fprintln(out, content.Text)
					}
				}
			} else {
				_, _ = fmt.Fprintln(out, logging.PrettyJSON(result))
			}
			if result.IsError {
				return fmt.Errorf("tool %s reported an error", args[0])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&argsJSON, "args", "", "Tool arguments as a JSON object")
	cmd.Flags().BoolVar(&asTask, "task", false, "Start the tool as a task instead of waiting for the result")
	cmd.Flags().Int64Var(&taskTTL, "task-ttl", 0, "Requested task retention in milliseconds (0 lets the server decide)")
	cmd.Flags().BoolVar(&rawOutput, "raw", false, "Print only the text content of the result")
	return cmd
}
