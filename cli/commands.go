package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sammcj/toolbridge/bridge"
	"github.com/sammcj/toolbridge/interactive"
	"github.com/sammcj/toolbridge/types"
	"github.com/spf13/cobra"
)

// DefaultDirectQuery is the query of the direct command when none is given
const DefaultDirectQuery = "Calculate 25 + 17"

func (a *App) newAskCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <query>",
		Short: "Answer one query using the configured tool provider",
		Long: `Connect to the tool provider, list its tools and answer one query.

Examples:
  toolbridge ask "Calculate 25 + 17"
  toolbridge ask --transport stdio "What is 6 times 5?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, closer, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer closer.Close()

			descriptors, err := s.ListTools(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Connected to provider with tools: %s\n", strings.Join(toolNames(descriptors), ", "))

			return a.runQuery(ctx, s, strings.Join(args, " "))
		},
	}
}

func (a *App) newDirectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "direct [query]",
		Short: "Answer one query calling the built-in tools directly",
		Long: `Answer one query with the built-in tools registered in this process,
without a provider session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := DefaultDirectQuery
			if len(args) > 0 {
				query = strings.Join(args, " ")
			}

			registry, owned, err := a.newRegistry()
			if err != nil {
				return err
			}
			defer owned.Close()

			return a.runQuery(cmd.Context(), registry, query)
		},
	}
}

func (a *App) newChatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, closer, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer closer.Close()

			b, err := a.newBridge(s)
			if err != nil {
				return err
			}

			descriptors, err := s.ListTools(ctx)
			if err != nil {
				return err
			}

			return interactive.New(b, a.stdin, a.stdout, interactive.Info{
				Model:     a.cfg.LLM.Provider + "/" + a.cfg.LLM.Model,
				Transport: a.cfg.Provider.Transport,
				Tools:     toolNames(descriptors),
			}).Start(ctx)
		},
	}
}

func (a *App) newToolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools of the configured provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, closer, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer closer.Close()

			descriptors, err := s.ListTools(ctx)
			if err != nil {
				return err
			}

			if a.jsonOutput {
				return a.printJSON(map[string]any{"tools": descriptors})
			}
			for _, d := range descriptors {
				fmt.Fprintf(a.stdout, "%s: %s\n", d.Name, d.Description)
				if len(d.InputSchema.Required) > 0 {
					fmt.Fprintf(a.stdout, "  required: %s\n", strings.Join(d.InputSchema.Required, ", "))
				}
			}
			return nil
		},
	}
}

func (a *App) newCallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "call <tool> [name=value...]",
		Short: "Invoke one tool",
		Long: `Invoke one tool on the configured provider. Values are parsed as JSON
when possible and passed as strings otherwise.

Examples:
  toolbridge call --url http://127.0.0.1:7777 multiply a=6 b=5
  toolbridge call query_database query="SELECT * FROM users"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			arguments, err := ParseArguments(args[1:])
			if err != nil {
				return exitWithCode(ExitFailure, err)
			}

			s, closer, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer closer.Close()

			res, err := s.CallTool(ctx, types.ToolCallRequest{
				ID:        "call_" + uuid.NewString(),
				Name:      args[0],
				Arguments: arguments,
			})
			if err != nil {
				return err
			}

			if a.jsonOutput {
				return a.printJSON(map[string]any{"result": res.Content})
			}
			fmt.Fprintf(a.stdout, "Result: %s\n", res.Text())
			return nil
		},
	}
}

// ParseArguments turns name=value pairs into tool arguments
func ParseArguments(pairs []string) (map[string]any, error) {
	args := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, errors.Newf("invalid argument %q, expected name=value", pair)
		}

		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			v = value
		}
		args[name] = v
	}
	return args, nil
}

func (a *App) newBridge(invoker bridge.ToolInvoker) (*bridge.Bridge, error) {
	model, err := a.newModel(a.cfg)
	if err != nil {
		return nil, exitWithCode(ExitConfig, err)
	}
	return bridge.New(model, invoker, bridge.Options{
		ModelTimeout: a.cfg.LLM.Timeout,
		Parallel:     a.cfg.LLM.ParallelTools,
		SystemPrompt: a.cfg.LLM.SystemPrompt,
	})
}

func (a *App) runQuery(ctx context.Context, invoker bridge.ToolInvoker, query string) error {
	b, err := a.newBridge(invoker)
	if err != nil {
		return err
	}

	res, err := b.ProcessQuery(ctx, query)
	if err != nil {
		return err
	}

	if a.jsonOutput {
		return a.printJSON(map[string]any{
			"answer":      res.Answer,
			"model_calls": res.ModelCalls,
			"tool_calls":  res.ToolCalls,
		})
	}
	fmt.Fprintln(a.stdout, res.Answer)
	return nil
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func toolNames(descriptors []types.ToolDescriptor) []string {
	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		names = append(names, d.Name)
	}
	return names
}
