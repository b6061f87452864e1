package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"compliancehub/internal/app"
	"compliancehub/internal/config"
	"compliancehub/internal/db"
	"compliancehub/internal/engine/auth"
	"compliancehub/internal/jobs"
	"compliancehub/internal/migrate"
	"compliancehub/internal/repo"
	"compliancehub/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "chub",
	Short: "Compliance Hub CLI",
	Long: `Compliance Hub tracks community tasks, their subtasks and budgets, and the
compliance workflow that takes each task through SAP approval.
- Tasks belong to a valley, faena and process; completing one archives it into history.
- Compliances move through ordered statuses, each with an SLA in days.
- Registries under a compliance carry either a solped or a memo, never both.
- Documents live in blob storage and survive deletion once their task is archived.
- Scheduled sweeps notify users about overdue subtasks and expired compliance SLAs.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CHUB")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("database-path", "", "SQLite database file (env CHUB_DATABASE_PATH)")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (env CHUB_CONFIG)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (env CHUB_LOG_LEVEL)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "cli", "actor recorded in the audit log")
	for _, name := range []string{"database-path", "config", "log-level", "json", "actor-id"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(jobsCmd())
	rootCmd.AddCommand(userCmd())
}

// loadSettings reads CHUB_* variables, applies flag overrides and loads the
// config file, falling back to defaults when it does not exist.
func loadSettings() (config.Env, *config.Config, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return config.Env{}, nil, err
	}
	if v := viper.GetString("database-path"); v != "" {
		env.DatabasePath = v
	}
	if v := viper.GetString("config"); v != "" {
		env.ConfigPath = v
	}
	if v := viper.GetString("log-level"); v != "" {
		env.LogLevel = v
	}
	cfg, err := config.LoadOptional(env.ConfigPath)
	if err != nil {
		return config.Env{}, nil, err
	}
	return env, cfg, nil
}

func withServices(ctx context.Context, fn func(context.Context, *app.Services) error) error {
	env, cfg, err := loadSettings()
	if err != nil {
		return err
	}
	logger, err := app.NewLogger(env.LogLevel, env.LogFormat)
	if err != nil {
		return err
	}
	s, err := app.Build(ctx, env, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noJobs bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server and the scheduled sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, cfg, err := loadSettings()
			if err != nil {
				return err
			}
			if env.JWTSecret == "" {
				return fmt.Errorf("CHUB_JWT_SECRET is required for bearer auth")
			}
			format := viper.GetString("log-format")
			if format == "" {
				format = "json"
			}
			logger, err := app.NewLogger(env.LogLevel, format)
			if err != nil {
				return err
			}
			s, err := app.Build(cmd.Context(), env, cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			handler, err := server.New(server.Config{
				Engine:      s.Engine,
				Auth:        s.Auth,
				Reports:     s.Reports,
				Jobs:        s.Jobs,
				BasePath:    basePath,
				FrontendURL: env.FrontendURL,
				Log:         logger.WithField("component", "http"),
			})
			if err != nil {
				return err
			}
			if cfg.Jobs.Enabled && !noJobs {
				sched, err := jobs.NewScheduler(cfg, s.Jobs)
				if err != nil {
					return err
				}
				sched.Start()
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					defer cancel()
					sched.Stop(ctx)
				}()
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.WithField("addr", addr).Infof("serving Compliance Hub API at %s (OpenAPI at %s/openapi.json, Swagger UI at /docs)", basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/api", "API base path")
	cmd.Flags().String("log-format", "", "json or text (default json when serving)")
	cmd.Flags().BoolVar(&noJobs, "no-jobs", false, "do not start the scheduler")
	_ = viper.BindPFlag("log-format", cmd.Flags().Lookup("log-format"))
	return cmd
}

func migrateCmd() *cobra.Command {
	m := &cobra.Command{Use: "migrate", Short: "Manage the database schema"}
	withDB := func(ctx context.Context, fn func(context.Context, *db.Config) error) error {
		env, _, err := loadSettings()
		if err != nil {
			return err
		}
		return fn(ctx, &db.Config{Path: env.DatabasePath})
	}
	m.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, c *db.Config) error {
				conn, err := db.Open(*c)
				if err != nil {
					return err
				}
				defer conn.Close()
				if err := migrate.Migrate(ctx, conn); err != nil {
					return err
				}
				v, err := migrate.Version(ctx, conn)
				if err != nil {
					return err
				}
				fmt.Printf("%s at schema version %d\n", db.Path(*c), v)
				return nil
			})
		},
	})
	m.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Revert the latest migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, c *db.Config) error {
				conn, err := db.Open(*c)
				if err != nil {
					return err
				}
				defer conn.Close()
				return migrate.Rollback(ctx, conn)
			})
		},
	})
	m.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, c *db.Config) error {
				conn, err := db.Open(*c)
				if err != nil {
					return err
				}
				defer conn.Close()
				v, err := migrate.Version(ctx, conn)
				if err != nil {
					return err
				}
				fmt.Println(v)
				return nil
			})
		},
	})
	return m
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Manage compliancehub.yml"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := config.LoadEnv()
			if err != nil {
				return err
			}
			path := env.ConfigPath
			if v := viper.GetString("config"); v != "" {
				path = v
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfgCmd.AddCommand(initCmd)
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadSettings()
			if err != nil {
				return err
			}
			fmt.Printf("config ok (roles: %s)\n", strings.Join(cfg.Roles(), ", "))
			return nil
		},
	})
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadSettings()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	})
	return cfgCmd
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Inspect and remove tasks"}
	t.AddCommand(taskListCmd())
	t.AddCommand(taskShowCmd())
	t.AddCommand(taskDeleteCmd())
	return t
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				tasks, err := s.Engine.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Valley", "Process", "Updated"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Name, t.StatusName, t.ValleyName, t.ProcessName, t.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&f.ValleyID, "valley", 0, "valley id filter")
	cmd.Flags().Int64Var(&f.ProcessID, "process", 0, "process id filter")
	cmd.Flags().Int64Var(&f.StatusID, "status", 0, "status id filter")
	cmd.Flags().StringVar(&f.Name, "name", "", "name contains")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum rows")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task with its subtasks, compliance and documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				detail, err := s.Engine.GetTaskDetail(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(detail)
				}
				summary, err := s.Reports.TaskSummary(ctx, id)
				if err != nil {
					return err
				}
				fmt.Printf("%d  %s  [%s]  progress %.0f%%  budget %d  expense %d\n",
					detail.ID, detail.Name, detail.StatusName, summary.Progress, summary.Budget, summary.Expense)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Subtask", "Name", "Budget", "Expense", "Start", "End"})
				for _, st := range detail.Subtasks {
					tw.AppendRow(table.Row{st.ID, st.Name, st.Budget, st.Expense, deref(st.StartDate), deref(st.EndDate)})
				}
				tw.Render()
				for _, c := range detail.Compliances {
					fmt.Printf("compliance %d: status %d, %d registries, listo=%v\n", c.ID, c.StatusID, len(c.Registries), c.Listo)
				}
				for _, d := range detail.Documents {
					fmt.Printf("document %d: %s (%d bytes)\n", d.ID, d.Filename, d.Size)
				}
				return nil
			})
		},
	}
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task and everything it owns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				detail, err := s.Engine.RemoveTask(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(detail)
				}
				fmt.Printf("deleted task %d (%d subtasks, %d compliances, %d documents)\n",
					detail.ID, len(detail.Subtasks), len(detail.Compliances), len(detail.Documents))
				return nil
			})
		},
	}
}

func historyCmd() *cobra.Command {
	var f repo.HistoryFilters
	h := &cobra.Command{Use: "history", Short: "Archived tasks"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List archived tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				items, err := s.Engine.ListHistories(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Task", "Name", "Final date", "Total expense", "Solped/Memo SAP", "HES/HEM SAP"})
				for _, it := range items {
					task := ""
					if it.TaskID != nil {
						task = strconv.FormatInt(*it.TaskID, 10)
					}
					tw.AppendRow(table.Row{it.ID, task, it.Name, it.FinalDate, it.TotalExpense, it.SolpedMemoSap, it.HesHemSap})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().Int64Var(&f.ValleyID, "valley", 0, "valley id filter")
	list.Flags().StringVar(&f.Name, "name", "", "name contains")
	list.Flags().IntVar(&f.Limit, "limit", 0, "maximum rows")
	h.AddCommand(list)
	return h
}

func reportCmd() *cobra.Command {
	r := &cobra.Command{Use: "report", Short: "Budget, expense and progress rollups"}
	var month string
	var year int
	monthly := &cobra.Command{
		Use:   "monthly",
		Short: "Totals for subtasks starting in a month",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				budget, err := s.Reports.TotalBudgetByMonth(ctx, month, year)
				if err != nil {
					return err
				}
				expense, err := s.Reports.TotalExpenseByMonth(ctx, month, year)
				if err != nil {
					return err
				}
				res := server.MonthlyReport{Month: month, Year: year, Budget: budget, Expense: expense}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s %d: budget %d, expense %d\n", month, year, budget, expense)
				return nil
			})
		},
	}
	monthly.Flags().StringVar(&month, "month", "", "Spanish month name (enero, febrero, ...)")
	monthly.Flags().IntVar(&year, "year", time.Now().Year(), "year")
	_ = monthly.MarkFlagRequired("month")
	r.AddCommand(monthly)

	var valleyYear int
	valley := &cobra.Command{
		Use:   "valley <id>",
		Short: "Totals and monthly budget for a valley",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				res := server.ValleyReport{ValleyID: id, Year: valleyYear}
				if res.Budget, err = s.Reports.ValleyBudget(ctx, id); err != nil {
					return err
				}
				if res.Expense, err = s.Reports.ValleyExpense(ctx, id); err != nil {
					return err
				}
				if res.Progress, err = s.Reports.ValleyProgress(ctx, id); err != nil {
					return err
				}
				if res.Monthly, err = s.Reports.MonthlyBudgetByValley(ctx, id, valleyYear); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("valley %d: budget %d, expense %d, progress %.1f%%\n", id, res.Budget, res.Expense, res.Progress)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Month", "Budget"})
				for _, m := range res.Monthly {
					tw.AppendRow(table.Row{m.Name, m.Budget})
				}
				tw.Render()
				return nil
			})
		},
	}
	valley.Flags().IntVar(&valleyYear, "year", time.Now().Year(), "year of the monthly rollup")
	r.AddCommand(valley)
	return r
}

func jobsCmd() *cobra.Command {
	j := &cobra.Command{Use: "jobs", Short: "Scheduled sweeps"}
	j.AddCommand(&cobra.Command{
		Use:       "run <name>",
		Short:     "Run a sweep once: " + strings.Join(jobs.Names, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: jobs.Names,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				res, err := s.Jobs.Run(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s: %d affected\n", res.Job, res.Affected)
				return nil
			})
		},
	})
	j.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show the configured schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadSettings()
			if err != nil {
				return err
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Job", "Schedule", "Timezone"})
			specs := map[string]string{
				jobs.TaskExpiry:          cfg.Jobs.TaskExpiry,
				jobs.ComplianceExpiry:    cfg.Jobs.ComplianceExpiry,
				jobs.NotificationCleanup: cfg.Jobs.NotificationCleanup,
			}
			for _, name := range jobs.Names {
				tw.AppendRow(table.Row{name, specs[name], cfg.Location().String()})
			}
			tw.Render()
			return nil
		},
	})
	return j
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage users"}
	var in auth.UserInput
	var admin bool
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a verified user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.Password == "" {
				in.Password = os.Getenv("CHUB_USER_PASSWORD")
			}
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				if admin {
					user, created, err := app.EnsureAdmin(ctx, s.Auth, in.Name, in.Email, in.Password)
					if err != nil {
						return err
					}
					if !created {
						fmt.Printf("user %s already exists (id %d, role %s)\n", user.Email, user.ID, user.RoleName)
						return nil
					}
					return printJSON(user)
				}
				user, err := s.Auth.CreateUser(ctx, in, true)
				if err != nil {
					return err
				}
				return printJSON(user)
			})
		},
	}
	create.Flags().StringVar(&in.Name, "name", "", "display name")
	create.Flags().StringVar(&in.Email, "email", "", "email")
	create.Flags().StringVar(&in.Password, "password", "", "password (or CHUB_USER_PASSWORD)")
	create.Flags().StringVar(&in.Role, "role", "", "role (default from config)")
	create.Flags().BoolVar(&admin, "admin", false, "create with the admin role unless the email exists")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("name")
	u.AddCommand(create)

	u.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				users, err := s.Auth.Repo.ListUsers(ctx, s.DB)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Role", "Verified"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Email, u.RoleName, u.EmailVerified})
				}
				tw.Render()
				return nil
			})
		},
	})

	u.AddCommand(&cobra.Command{
		Use:   "role <id> <role>",
		Short: "Change a user's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) error {
				user, err := s.Auth.ChangeRole(ctx, id, args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(user)
			})
		},
	})
	return u
}

func parseID(v string) (int64, error) {
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", v)
	}
	return id, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
