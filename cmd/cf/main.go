package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseflow/internal/app"
	"caseflow/internal/condition"
	"caseflow/internal/config"
	"caseflow/internal/db"
	"caseflow/internal/engine"
	"caseflow/internal/events"
	"caseflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cf",
	Short: "Caseflow CLI",
	Long: `Caseflow runs form-driven case workflows with routing and stage orchestration.
Core concepts:
- Workspace: your .caseflow directory holding the SQLite database; settings live in caseflow.yml.
- Form version: a published form (key + version) with its pinned blocks; immutable once created.
- Routes: conditions on block data that decide which blocks open when one completes.
- Process graph: optional stages over the pinned blocks, with ordered transitions between stages.
- Case: one running instance of a form version; its blocks carry data, status and assignees.
- Tasks: the worklist mirror of case blocks (assignee, due date, status).
- Notifications: append-only records emitted on assignment, status changes and due dates.
- Event log: diary of changes, view with 'cf log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CASEFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("form", "", "form version id or key:version shorthand")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("form", rootCmd.PersistentFlags().Lookup("form"))
}

func registerCommands() {
	rootCmd.AddCommand(formCmd())
	rootCmd.AddCommand(graphCmd())
	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(blockCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(notifyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- form ---

func formCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "form", Short: "Manage form versions"}
	cmd.AddCommand(formCreateCmd())
	cmd.AddCommand(formListCmd())
	cmd.AddCommand(formShowCmd())
	return cmd
}

func formCreateCmd() *cobra.Command {
	var key, title string
	var version int
	var pins []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a form version with pinned blocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parsePins(pins)
			if err != nil {
				return err
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				fv, err := env.Engine.CreateFormVersion(ctx, key, version, title, parsed, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(fv)
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "form key")
	cmd.Flags().IntVar(&version, "version", 1, "form version number")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringArrayVar(&pins, "pin", []string{}, "block pin as key:version[:title] (repeatable)")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func parsePins(raw []string) ([]engine.PinInput, error) {
	out := make([]engine.PinInput, 0, len(raw))
	for _, r := range raw {
		parts := strings.SplitN(r, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid pin %q, want key:version[:title]", r)
		}
		ver, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid pin version in %q", r)
		}
		pin := engine.PinInput{BlockKey: parts[0], BlockVersion: ver}
		if len(parts) == 3 {
			pin.Title = parts[2]
		}
		out = append(out, pin)
	}
	return out, nil
}

func formListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List form versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				items, err := env.Engine.ListFormVersions(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Key", "Version", "Title", "Created"})
				for _, fv := range items {
					tw.AppendRow(table.Row{fv.ID, fv.FormKey, fv.Version, fv.Title, fv.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func formShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a form version and its pins",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				fv, err := app.ResolveFormVersion(ctx, env.Engine, viper.GetString("form"))
				if err != nil {
					return err
				}
				pins, err := env.Engine.ListBlockPins(ctx, fv.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"form_version": fv, "pins": pins})
			})
		},
	}
	return cmd
}

// --- graph ---

func graphCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "graph", Short: "Manage process graphs"}
	cmd.AddCommand(graphImportCmd())
	cmd.AddCommand(graphShowCmd())
	return cmd
}

func graphImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a process graph from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				fv, err := app.ResolveFormVersion(ctx, env.Engine, viper.GetString("form"))
				if err != nil {
					return err
				}
				g, err := env.Engine.ImportGraph(ctx, fv.ID, raw, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	return cmd
}

func graphShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the process graph of a form version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				fv, err := app.ResolveFormVersion(ctx, env.Engine, viper.GetString("form"))
				if err != nil {
					return err
				}
				g, err := env.Engine.GetGraph(ctx, fv.ID)
				if err != nil {
					return err
				}
				if g == nil {
					return fmt.Errorf("form version %s has no process graph", fv.ID)
				}
				return printJSONOrTable(g)
			})
		},
	}
	return cmd
}

// --- route ---

func routeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "route", Short: "Manage routing rules"}
	cmd.AddCommand(routeAddCmd())
	cmd.AddCommand(routeListCmd())
	cmd.AddCommand(routeValidateCmd())
	return cmd
}

func routeAddCmd() *cobra.Command {
	var from, to, condJSON string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a routing rule between two pinned blocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cond condition.Condition
			if err := json.Unmarshal([]byte(condJSON), &cond); err != nil {
				return fmt.Errorf("invalid condition: %w", err)
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				fv, err := app.ResolveFormVersion(ctx, env.Engine, viper.GetString("form"))
				if err != nil {
					return err
				}
				rt, err := env.Engine.AddRoute(ctx, fv.ID, from, to, cond, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(rt)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "source block key")
	cmd.Flags().StringVar(&to, "to", "", "target block key")
	cmd.Flags().StringVar(&condJSON, "condition", `{"Operator":"and","Conditions":[]}`, "condition JSON")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func routeListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List routing rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				fv, err := app.ResolveFormVersion(ctx, env.Engine, viper.GetString("form"))
				if err != nil {
					return err
				}
				routes, err := env.Engine.ListRoutes(ctx, fv.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(routes)
			})
		},
	}
	return cmd
}

func routeValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate routing rules against the pinned blocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				fv, err := app.ResolveFormVersion(ctx, env.Engine, viper.GetString("form"))
				if err != nil {
					return err
				}
				problems, err := env.Engine.ValidateRoutes(ctx, fv.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"valid": len(problems) == 0, "problems": problems})
			})
		},
	}
	return cmd
}

// --- case ---

func caseCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "case", Short: "Manage cases"}
	cmd.AddCommand(caseStartCmd())
	cmd.AddCommand(caseListCmd())
	cmd.AddCommand(caseShowCmd())
	cmd.AddCommand(caseInitCmd())
	cmd.AddCommand(caseStagesCmd())
	cmd.AddCommand(caseAdvanceCmd())
	cmd.AddCommand(caseBlocksCmd())
	return cmd
}

func caseStartCmd() *cobra.Command {
	var startKeys []string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a case for a form version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				fv, err := app.ResolveFormVersion(ctx, env.Engine, viper.GetString("form"))
				if err != nil {
					return err
				}
				c, err := env.Engine.StartCase(ctx, engine.StartCaseOptions{
					FormVersionID:  fv.ID,
					ActorID:        actorID(),
					StartBlockKeys: startKeys,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringArrayVar(&startKeys, "block", []string{}, "start block key (repeatable)")
	return cmd
}

func caseListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				cases, err := env.Engine.ListCases(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cases)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Form Version", "Started By", "Started At"})
				for _, c := range cases {
					tw.AppendRow(table.Row{c.ID, c.FormVersionID, c.StartedBy, c.StartedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "n", 50, "max cases")
	return cmd
}

func caseShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <case-id>",
		Short: "Show a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				c, err := env.Engine.GetCase(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func caseInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init <case-id>",
		Short: "Initialize the start stage of a case's process graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				res, err := env.Engine.InitializeCase(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func caseStagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stages <case-id>",
		Short: "Show the per-stage runtime view of a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				stages, err := env.Engine.GetRuntimeStages(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(stages)
			})
		},
	}
	return cmd
}

func caseAdvanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "advance <case-id> <stage-id>",
		Short: "Complete a stage and open the next stages",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				res, err := env.Engine.CompleteStageAndAdvance(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func caseBlocksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blocks <case-id>",
		Short: "List the blocks of a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				blocks, err := env.Engine.ListCaseBlocks(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(blocks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Key", "Status", "Assignee", "Due"})
				for _, b := range blocks {
					tw.AppendRow(table.Row{b.ID, b.BlockKey, b.Status, strOrEmpty(b.AssigneeUserID), strOrEmpty(b.DueAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

// --- block ---

func blockCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "block", Short: "Work on case blocks"}
	cmd.AddCommand(blockShowCmd())
	cmd.AddCommand(blockDataCmd())
	cmd.AddCommand(blockCompleteCmd())
	cmd.AddCommand(blockReopenCmd())
	cmd.AddCommand(blockAssignCmd())
	cmd.AddCommand(blockStatusCmd())
	return cmd
}

func blockShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <block-id>",
		Short: "Show a case block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				b, err := env.Engine.GetCaseBlock(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	return cmd
}

func blockDataCmd() *cobra.Command {
	var data, file string
	cmd := &cobra.Command{
		Use:   "data <block-id>",
		Short: "Set the data of a case block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := data
			if file != "" {
				b, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				raw = string(b)
			}
			if strings.TrimSpace(raw) == "" {
				return fmt.Errorf("use --data or --file")
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				b, err := env.Engine.SetBlockData(ctx, args[0], raw, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "block data as a JSON object")
	cmd.Flags().StringVar(&file, "file", "", "read block data from a JSON file")
	return cmd
}

func blockCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <block-id>",
		Short: "Complete a case block and route to the next blocks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				res, err := env.Engine.CompleteBlock(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func blockReopenCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reopen <block-id>",
		Short: "Reopen a locked block (requires the reopen capability)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				b, err := env.Engine.ReopenBlock(ctx, args[0], actorID(), reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the block is reopened")
	return cmd
}

func blockAssignCmd() *cobra.Command {
	var user, group, due string
	cmd := &cobra.Command{
		Use:   "assign <block-id>",
		Short: "Assign a block to a user or group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				b, err := env.Engine.Assign(ctx, args[0], optionalString(user), optionalString(group), optionalString(due), actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "assignee user id")
	cmd.Flags().StringVar(&group, "group", "", "assignee group id")
	cmd.Flags().StringVar(&due, "due", "", "due date (RFC3339)")
	return cmd
}

func blockStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <block-id> <status>",
		Short: "Set the working status of a block (open, in_progress, waiting, done, rejected)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				b, err := env.Engine.SetTaskStatus(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	return cmd
}

// --- task ---

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Work with the task mirror"}
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskSweepCmd())
	return cmd
}

func taskListCmd() *cobra.Command {
	var caseID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks for a case",
		RunE: func(cmd *cobra.Command, args []string) error {
			if caseID == "" {
				return fmt.Errorf("--case required")
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				tasks, err := env.Engine.ListTasks(ctx, caseID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Block", "Status", "Assignee", "Due"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.CaseBlockID, t.Status, strOrEmpty(t.AssigneeUserID), strOrEmpty(t.DueAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&caseID, "case", "", "case id")
	return cmd
}

func taskSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Emit due-soon and overdue notifications for dated tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				res, err := env.Engine.SweepDueTasks(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

// --- notify ---

func notifyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "notify", Short: "Inspect notifications"}
	cmd.AddCommand(notifyListCmd())
	return cmd
}

func notifyListCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				items, err := env.Engine.ListNotifications(ctx, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of notifications")
	return cmd
}

// --- log ---

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var afterID int64
	var caseID, evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				evts, err := env.Engine.ListEvents(ctx, events.ListOptions{
					CaseID:  caseID,
					Type:    evtType,
					AfterID: afterID,
					Limit:   n,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(evts)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().Int64Var(&afterID, "after", 0, "only events with id greater than this")
	cmd.Flags().StringVar(&caseID, "case", "", "case id filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

// --- rbac ---

func rbacCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rbac", Short: "Manage roles and grants"}
	cmd.AddCommand(rbacGrantCmd())
	cmd.AddCommand(rbacRevokeCmd())
	cmd.AddCommand(rbacRolesCmd())
	return cmd
}

func rbacGrantCmd() *cobra.Command {
	var actor, role string
	cmd := &cobra.Command{
		Use:   "grant-role",
		Short: "Grant a role to an actor on a form version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				fv, err := app.ResolveFormVersion(ctx, env.Engine, viper.GetString("form"))
				if err != nil {
					return err
				}
				if err := env.Engine.GrantRole(ctx, fv.ID, actor, role, actorID()); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"actor_id": actor, "role_id": role, "form_version_id": fv.ID})
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func rbacRevokeCmd() *cobra.Command {
	var actor, role string
	cmd := &cobra.Command{
		Use:   "revoke-role",
		Short: "Revoke a role from an actor on a form version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				fv, err := app.ResolveFormVersion(ctx, env.Engine, viper.GetString("form"))
				if err != nil {
					return err
				}
				if err := env.Engine.RevokeRole(ctx, fv.ID, actor, role, actorID()); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"actor_id": actor, "role_id": role, "form_version_id": fv.ID})
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func rbacRolesCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Show the roles of an actor on a form version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				fv, err := app.ResolveFormVersion(ctx, env.Engine, viper.GetString("form"))
				if err != nil {
					return err
				}
				roles, err := env.Engine.ActorRoles(ctx, fv.ID, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"actor_id": actor, "roles": roles})
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

// --- apikey ---

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the secret is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = actorID()
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				key, secret, err := env.Engine.CreateAPIKey(ctx, actor, name)
				if err != nil {
					return err
				}
				key.KeyHash = ""
				return printJSONOrTable(map[string]any{"api_key": key, "key": secret})
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				keys, err := env.Engine.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				for i := range keys {
					keys[i].KeyHash = ""
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor id")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				if err := env.Engine.RevokeAPIKey(ctx, args[0]); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": args[0], "status": "revoked"})
			})
		},
	}
	return cmd
}

// --- config ---

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configInitCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default caseflow.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyActor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := app.Open(cmd.Context(), viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer env.Close()
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("CASEFLOW_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacyActor,
			}
			if authCfg.JWTSecret == "" && !allowLegacyActor {
				return fmt.Errorf("CASEFLOW_JWT_SECRET is required for bearer auth (or pass --allow-legacy-actor)")
			}
			handler, err := server.New(server.Config{Engine: env.Engine, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Caseflow API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyActor, "allow-legacy-actor", false, "accept the X-Actor-Id header without auth (dev only)")
	return cmd
}

// --- helpers ---

func withEnv(ctx context.Context, fn func(context.Context, *app.Env) error) error {
	env, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env)
}

func actorID() string {
	return viper.GetString("actor-id")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
