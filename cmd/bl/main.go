package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"burnline/internal/app"
	"burnline/internal/auth"
	"burnline/internal/burndown"
	"burnline/internal/config"
	"burnline/internal/db"
	"burnline/internal/engine"
	"burnline/internal/migrate"
	"burnline/internal/repo"
	"burnline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "bl",
	Short: "Burnline CLI",
	Long: `Burnline tracks tasks and milestones in a local workspace and draws burndown charts from the task event log.
- Workspace: the .burnline directory holding the SQLite database.
- Milestone: a scope with an optional start and due date; its window bounds the chart.
- Task events: every create, edit, status change and delete is appended to the log ('bl log tail').
- Burndown: 'bl burndown' replays the log into one row per day (remaining, completed, added, reopened).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BURNLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor recorded on task events")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides burnline.yml)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(milestoneCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(burndownCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var id, name string
	var writeConfig bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				cfg, err := config.LoadOptional(workspace)
				if err != nil {
					return err
				}
				if id == "" && cfg != nil {
					id = cfg.Project.ID
				}
				if cfg == nil || cfg.Project.ID != id {
					cfg = config.Default(id)
				}
				p, err := engine.New(r.DB, nil).InitProject(ctx, id, name, cfg)
				if err != nil {
					return err
				}
				if writeConfig {
					if _, err := os.Stat(config.Path(workspace)); err == nil {
						return fmt.Errorf("%s already exists", config.Path(workspace))
					}
					if err := os.WriteFile(config.Path(workspace), []byte(config.GenerateDefault(p.ID)), 0o644); err != nil {
						return err
					}
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().BoolVar(&writeConfig, "write-config", false, "write a default burnline.yml for the project")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func milestoneCmd() *cobra.Command {
	ms := &cobra.Command{Use: "milestone", Short: "Manage milestones"}
	ms.AddCommand(milestoneCreateCmd())
	ms.AddCommand(milestoneListCmd())
	ms.AddCommand(milestoneUpdateCmd())
	return ms
}

func milestoneCreateCmd() *cobra.Command {
	var opts engine.MilestoneCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create milestone",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ProjectID = e.Config.Project.ID
				m, err := e.CreateMilestone(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "milestone id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "milestone name")
	cmd.Flags().StringVar(&opts.StartDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func milestoneListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List milestones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListMilestones(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Start", "Due"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.ID, m.Name, deref(m.StartDate), deref(m.DueDate)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func milestoneUpdateCmd() *cobra.Command {
	var name, start, due string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update milestone name or dates; pass an empty date to clear it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.MilestoneUpdateOptions{ID: args[0]}
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("start") {
				opts.StartDate = &start
			}
			if cmd.Flags().Changed("due") {
				opts.DueDate = &due
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.UpdateMilestone(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "milestone name")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")
	return cmd
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Manage tasks"}
	t.AddCommand(taskCreateCmd())
	t.AddCommand(taskListCmd())
	t.AddCommand(taskMoveCmd())
	t.AddCommand(taskStatusCmd())
	t.AddCommand(taskDeleteCmd())
	return t
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ProjectID = e.Config.Project.ID
				opts.ActorID = viper.GetString("actor-id")
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (generated when empty)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "task title")
	cmd.Flags().StringVar(&opts.MilestoneID, "milestone", "", "milestone id")
	cmd.Flags().StringVar(&opts.Status, "status", "", "initial status (defaults to the baseline status)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f.ProjectID = e.Config.Project.ID
				tasks, err := e.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Milestone"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, deref(t.MilestoneID)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.MilestoneID, "milestone", "", "milestone filter")
	cmd.Flags().BoolVar(&f.Unassigned, "unassigned", false, "only tasks without a milestone")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum rows")
	return cmd
}

func taskMoveCmd() *cobra.Command {
	var milestone, title string
	cmd := &cobra.Command{
		Use:   "move <id>",
		Short: "Reassign a task's milestone (empty --milestone unassigns) or retitle it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskUpdateOptions{ID: args[0], ActorID: viper.GetString("actor-id")}
			if cmd.Flags().Changed("milestone") {
				opts.MilestoneID = &milestone
			}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if opts.MilestoneID == nil && opts.Title == nil {
				return fmt.Errorf("--milestone or --title required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&milestone, "milestone", "", "target milestone id")
	cmd.Flags().StringVar(&title, "title", "", "new title")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Set task status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.SetTaskStatus(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete task (its history stays in the event log)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteTask(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent task events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f.ProjectID = e.Config.Project.ID
				events, err := e.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "At", "Type", "Task", "Actor", "Before", "After"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.OccurredAt, evt.Type, evt.TargetID, evt.ActorID, string(evt.DataBefore), string(evt.DataAfter)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.TargetID, "task", "", "task id filter")
	return cmd
}

func burndownCmd() *cobra.Command {
	var milestone, today string
	var all bool
	cmd := &cobra.Command{
		Use:   "burndown",
		Short: "Compute a burndown for a milestone or the whole project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if today != "" {
					d, err := burndown.ParseDate(today)
					if err != nil {
						return fmt.Errorf("--today: %w", err)
					}
					e.Now = func() time.Time { return d.Add(12 * time.Hour) }
				}
				if all {
					results, err := e.BurndownAll(ctx, e.Config.Project.ID)
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(results)
					}
					for _, res := range results {
						renderBurndown(os.Stdout, res)
					}
					return nil
				}
				var milestoneID *string
				if milestone != "" {
					milestoneID = &milestone
				}
				res, err := e.Burndown(ctx, e.Config.Project.ID, milestoneID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				renderBurndown(os.Stdout, res)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&milestone, "milestone", "", "milestone id (whole project when empty)")
	cmd.Flags().StringVar(&today, "today", "", "compute as of this date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&all, "all", false, "one burndown per dated milestone")
	cmd.MarkFlagsMutuallyExclusive("milestone", "all")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Start the HTTP API. Reads BURNLINE_JWT_SECRET, BURNLINE_ADDR, BURNLINE_BASE_PATH and BURNLINE_ALLOW_ACTOR_HEADER.",
		RunE: func(cmd *cobra.Command, args []string) error {
			se, err := config.LoadServeEnv()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				se.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				se.BasePath = basePath
			}
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(cmd.Context(), conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			var cfg *config.Config
			if _, c, err := app.ResolveProjectAndConfig(cmd.Context(), workspace, viper.GetString("project"), r); err == nil {
				cfg = c
			}
			logger := log.New(os.Stderr, "burnline ", log.LstdFlags)
			handler, err := server.New(server.Config{
				Engine:   engine.New(conn, cfg),
				BasePath: se.BasePath,
				Auth:     server.AuthConfig{JWTSecret: se.JWTSecret, AllowActorHeader: se.AllowActorHeader},
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: se.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), time.Duration(se.ShutdownTimeoutMS)*time.Millisecond)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}()
			logger.Printf("serving burnline API on http://%s%s (OpenAPI at %s/openapi.json)", se.Addr, se.BasePath, se.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides BURNLINE_ADDR)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides BURNLINE_BASE_PATH)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var perms []string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with BURNLINE_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			var se config.ServeEnv
			if err := config.ParseEnv(&se); err != nil {
				return err
			}
			if subject == "" {
				subject = viper.GetString("actor-id")
			}
			token, err := auth.IssueToken(se.JWTSecret, subject, perms)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "token subject (defaults to --actor-id)")
	cmd.Flags().StringSliceVar(&perms, "perm", nil, "permission to grant (burndown.read, tasks.write, *); repeatable")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		_, cfg, err := app.ResolveProjectAndConfig(ctx, workspace, viper.GetString("project"), r)
		if err != nil {
			return err
		}
		return fn(ctx, engine.New(r.DB, cfg))
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
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

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
