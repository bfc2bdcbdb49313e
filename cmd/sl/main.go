package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"studyline/internal/app"
	"studyline/internal/cache"
	"studyline/internal/config"
	"studyline/internal/db"
	"studyline/internal/domain"
	"studyline/internal/engine"
	"studyline/internal/logger"
	"studyline/internal/migrate"
	"studyline/internal/repo"
	"studyline/internal/scheduler"
	"studyline/internal/server"
)

const envFile = ".env"

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Studyline CLI",
	Long: `Studyline schedules activities for participants of longitudinal studies.
- Study: one studyline.yml per workspace declares custom events, look-ahead limits and plans.
- Plans: pick a schedule per participant (simple, A/B test or criteria) and expand it into activities.
- Events: enrollment, custom and activity-finished timestamps anchor schedules.
- Activities: persisted once generated so their guids and completion survive later requests.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetString("database-url") != "" {
			return nil
		}
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
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	_ = godotenv.Load(envFile)
	viper.SetEnvPrefix("STUDYLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("study", "", "study id (overrides studyline.yml)")
	flags.String("database-url", "", "PostgreSQL URL; the workspace SQLite file is used when empty")
	flags.String("log-mode", "dev", "log mode: dev or prod")
	flags.String("log-level", "info", "log level")
	flags.String("jwt-secret", "", "HS256 signing secret for participant tokens")
	for _, name := range []string{"workspace", "json", "study", "database-url", "log-mode", "log-level", "jwt-secret"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(activitiesCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var studyID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create studyline.yml and the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(studyID)), 0o644); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := app.ImportConfig(ctx, r, cfg); err != nil {
					return err
				}
				fmt.Printf("Initialized study %s in %s\n", studyID, workspace)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&studyID, "study-id", "", "study id")
	_ = cmd.MarkFlagRequired("study-id")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				v, err := migrate.Version(r.DB)
				if err != nil {
					return err
				}
				fmt.Printf("schema version %d\n", v)
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Study config"}
	cfgCmd.AddCommand(configShowCmd())
	cfgCmd.AddCommand(configValidateCmd())
	cfgCmd.AddCommand(configImportCmd())
	return cfgCmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored study config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ repo.Repo) error {
				if viper.GetBool("json") {
					return printJSON(e.Config)
				}
				out, err := e.Config.YAML()
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file without importing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.Path(viper.GetString("workspace"))
			}
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			fmt.Printf("%s: study %s, %d plans\n", file, cfg.Study.ID, len(cfg.Plans))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file (defaults to studyline.yml)")
	return cmd
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Store a config file as the study config and sync its plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := app.ImportConfig(ctx, r, cfg); err != nil {
					return err
				}
				fmt.Printf("Imported config for study %s (%d plans)\n", cfg.Study.ID, len(cfg.Plans))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func planCmd() *cobra.Command {
	pc := &cobra.Command{Use: "plan", Short: "Schedule plans"}
	pc.AddCommand(planListCmd())
	pc.AddCommand(planImportCmd())
	pc.AddCommand(planDeleteCmd())
	return pc
}

func planListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List plans of the study",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, r repo.Repo) error {
				plans, err := r.ListPlans(ctx, e.Config.Study.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(plans)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"GUID", "Label", "Strategy", "App versions", "Modified"})
				for _, p := range plans {
					tw.AppendRow(table.Row{p.GUID, p.Label, p.Strategy.Type, versionRange(p.AppVersionRule), p.ModifiedOn.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func versionRange(rule scheduler.AppVersionRule) string {
	var parts []string
	for name, v := range rule.MinAppVersions {
		parts = append(parts, fmt.Sprintf("%s>=%d", name, v))
	}
	for name, v := range rule.MaxAppVersions {
		parts = append(parts, fmt.Sprintf("%s<%d", name, v))
	}
	if len(parts) == 0 {
		return "any"
	}
	slices.Sort(parts)
	return strings.Join(parts, " ")
}

func planImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Upsert plans from a YAML list",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var plans []scheduler.Plan
			if err := yaml.Unmarshal(data, &plans); err != nil {
				return fmt.Errorf("invalid plans yaml: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, r repo.Repo) error {
				for _, p := range plans {
					if p.StudyID == "" {
						p.StudyID = e.Config.Study.ID
					}
					saved, err := r.UpsertPlan(ctx, p)
					if err != nil {
						return fmt.Errorf("plan %s: %w", p.GUID, err)
					}
					fmt.Printf("upserted plan %s\n", saved.GUID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "plans file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func planDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <guid>",
		Short: "Delete a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeletePlan(ctx, args[0])
			})
		},
	}
}

func eventCmd() *cobra.Command {
	ec := &cobra.Command{Use: "event", Short: "Participant events"}
	ec.AddCommand(eventPublishCmd())
	ec.AddCommand(eventListCmd())
	ec.AddCommand(eventDeleteCmd())
	ec.AddCommand(eventHistoryCmd())
	return ec
}

// parseTimestamp accepts epoch milliseconds or RFC 3339.
func parseTimestamp(raw string) (int64, error) {
	if raw == "" {
		return domain.Millis(time.Now()), nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, fmt.Errorf("timestamp %q: want epoch milliseconds or RFC 3339", raw)
	}
	return domain.Millis(t), nil
}

func eventPublishCmd() *cobra.Command {
	var healthCode, key, at string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an event for a participant",
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := parseTimestamp(at)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ repo.Repo) error {
				changed, err := e.PublishEvent(ctx, healthCode, key, ts)
				if err != nil {
					return err
				}
				if !changed {
					fmt.Printf("%s unchanged\n", key)
					return nil
				}
				fmt.Printf("%s = %s\n", key, domain.FromMillis(ts).Format(time.RFC3339))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&healthCode, "health-code", "", "participant health code")
	cmd.Flags().StringVar(&key, "key", "", "event key, e.g. enrollment or custom:day3")
	cmd.Flags().StringVar(&at, "at", "", "timestamp (epoch ms or RFC 3339, default now)")
	_ = cmd.MarkFlagRequired("health-code")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func eventListCmd() *cobra.Command {
	var healthCode string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the event map used for scheduling",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ repo.Repo) error {
				evs, err := e.EventMap(ctx, healthCode, "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evs)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Key", "Timestamp"})
				for _, k := range sortedKeys(evs) {
					tw.AppendRow(table.Row{k, domain.FromMillis(evs[k]).Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&healthCode, "health-code", "", "participant health code")
	_ = cmd.MarkFlagRequired("health-code")
	return cmd
}

func eventDeleteCmd() *cobra.Command {
	var healthCode string
	cmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a published event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ repo.Repo) error {
				return e.DeleteEvent(ctx, healthCode, args[0])
			})
		},
	}
	cmd.Flags().StringVar(&healthCode, "health-code", "", "participant health code")
	_ = cmd.MarkFlagRequired("health-code")
	return cmd
}

func eventHistoryCmd() *cobra.Command {
	var healthCode, key string
	var n int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Tail the event history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListEventHistory(ctx, repo.HistoryFilter{HealthCode: healthCode, Key: key, Limit: n})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "At", "Health code", "Key", "Action", "Timestamp"})
				for _, ev := range items {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.HealthCode, ev.Key, ev.Action, domain.FromMillis(ev.Timestamp).Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&healthCode, "health-code", "", "participant health code")
	cmd.Flags().StringVar(&key, "key", "", "event key")
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	return cmd
}

func activitiesCmd() *cobra.Command {
	ac := &cobra.Command{Use: "activities", Short: "Scheduled activities"}
	ac.AddCommand(activitiesListCmd())
	ac.AddCommand(activitiesUpdateCmd())
	return ac
}

func activitiesListCmd() *cobra.Command {
	var healthCode, zone, endsOn, appInfo string
	var daysAhead, minimum int
	var dataGroups []string
	var stored bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Compute the participant's visible activities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, r repo.Repo) error {
				var list []domain.ScheduledActivity
				var err error
				if stored {
					list, err = r.ListActivities(ctx, repo.ActivityFilter{HealthCode: healthCode})
				} else {
					req := engine.Request{
						HealthCode: healthCode,
						TimeZone:   zone,
						ClientInfo: domain.ParseClientInfo(appInfo),
						Window:     scheduler.WindowRequest{MinimumPerSchedule: minimum},
					}
					if cmd.Flags().Changed("data-group") {
						req.DataGroups = dataGroups
					}
					if cmd.Flags().Changed("days-ahead") {
						req.Window.DaysAhead = &daysAhead
					}
					if endsOn != "" {
						t, err := time.Parse(time.RFC3339, endsOn)
						if err != nil {
							return fmt.Errorf("--ends-on: %w", err)
						}
						req.Window.EndsOn = &t
					}
					list, err = e.ComputeVisibleActivities(ctx, req)
				}
				if err != nil {
					return err
				}
				return printActivities(list, e.Now())
			})
		},
	}
	cmd.Flags().StringVar(&healthCode, "health-code", "", "participant health code")
	cmd.Flags().StringVar(&zone, "time-zone", "", "caller time zone (IANA name or offset)")
	cmd.Flags().IntVar(&daysAhead, "days-ahead", 0, "days of look-ahead")
	cmd.Flags().StringVar(&endsOn, "ends-on", "", "RFC 3339 end of the window")
	cmd.Flags().IntVar(&minimum, "minimum-per-schedule", 0, "minimum activities per schedule")
	cmd.Flags().StringVar(&appInfo, "app-info", "", "client descriptor, e.g. \"App/12 (iOS)\"")
	cmd.Flags().StringArrayVar(&dataGroups, "data-group", nil, "participant data group (repeatable)")
	cmd.Flags().BoolVar(&stored, "stored", false, "list persisted activities without generating")
	_ = cmd.MarkFlagRequired("health-code")
	return cmd
}

func activitiesUpdateCmd() *cobra.Command {
	var healthCode, guid, startedOn, finishedOn string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Record started or finished times",
		RunE: func(cmd *cobra.Command, args []string) error {
			u := &scheduler.ActivityUpdate{GUID: guid}
			if startedOn != "" {
				ts, err := parseTimestamp(startedOn)
				if err != nil {
					return err
				}
				u.StartedOn = &ts
			}
			if finishedOn != "" {
				ts, err := parseTimestamp(finishedOn)
				if err != nil {
					return err
				}
				u.FinishedOn = &ts
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ repo.Repo) error {
				res, err := e.ApplyClientUpdates(ctx, healthCode, []*scheduler.ActivityUpdate{u})
				if err != nil {
					return err
				}
				for _, ev := range res.Events {
					fmt.Printf("published %s\n", ev.Key)
				}
				return printActivities(res.Updated, e.Now())
			})
		},
	}
	cmd.Flags().StringVar(&healthCode, "health-code", "", "participant health code")
	cmd.Flags().StringVar(&guid, "guid", "", "scheduled activity guid")
	cmd.Flags().StringVar(&startedOn, "started", "", "started timestamp")
	cmd.Flags().StringVar(&finishedOn, "finished", "", "finished timestamp")
	_ = cmd.MarkFlagRequired("health-code")
	_ = cmd.MarkFlagRequired("guid")
	return cmd
}

func printActivities(list []domain.ScheduledActivity, now time.Time) error {
	if viper.GetBool("json") {
		return printJSON(list)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"GUID", "Plan", "Activity", "Scheduled", "Expires", "Status"})
	for _, a := range list {
		expires := ""
		if exp := a.ExpiresOn(); exp != nil {
			expires = exp.Format(time.RFC3339)
		}
		tw.AppendRow(table.Row{a.GUID, a.SchedulePlanGUID, a.Activity.GUID, a.ScheduledOn().Format(time.RFC3339), expires, a.Status(now)})
	}
	tw.Render()
	return nil
}

func tokenCmd() *cobra.Command {
	var healthCode, userID string
	var dataGroups []string
	var ttl time.Duration
	var save bool
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a participant bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ repo.Repo) error {
				p := server.Principal{HealthCode: healthCode, StudyID: e.Config.Study.ID, UserID: userID}
				if cmd.Flags().Changed("data-group") {
					p.DataGroups = dataGroups
				}
				tok, err := server.SignToken(secret, p, ttl, time.Now())
				if err != nil {
					return err
				}
				if save {
					if err := setEnvValue(envFile, "STUDYLINE_TOKEN", tok); err != nil {
						return err
					}
				}
				fmt.Println(tok)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&healthCode, "health-code", "", "participant health code")
	cmd.Flags().StringVar(&userID, "user-id", "", "user id used for A/B bucketing")
	cmd.Flags().StringArrayVar(&dataGroups, "data-group", nil, "data group claim (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().BoolVar(&save, "save", false, "store the token as STUDYLINE_TOKEN in .env")
	_ = cmd.MarkFlagRequired("health-code")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger()
			if err != nil {
				return err
			}
			defer log.Sync()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, r repo.Repo) error {
				e.Log = log
				authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret")}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("STUDYLINE_JWT_SECRET is required for bearer auth")
				}
				redisURL := viper.GetString("redis-url")
				if redisURL == "" {
					redisURL = e.Config.Cache.RedisURL
				}
				if redisURL != "" {
					rdb, err := cache.NewClient(redisURL)
					if err != nil {
						return err
					}
					defer rdb.Close()
					e.Events = cache.NewEventCache(r, rdb, e.Config.CacheTTL(), log)
					log.Info("event cache enabled", "ttl", e.Config.CacheTTL().String())
				}
				handler, err := server.New(server.Config{Engine: e, Repo: r, BasePath: basePath, Auth: authCfg, Log: log})
				if err != nil {
					return err
				}
				server.StartWebhookDispatcher(ctx, e.Config, r, log)
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				log.Info("serving studyline API", "addr", addr, "base_path", basePath, "study", e.Config.Study.ID)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().String("redis-url", "", "Redis URL for the event cache (STUDYLINE_REDIS_URL)")
	_ = viper.BindPFlag("redis-url", cmd.Flags().Lookup("redis-url"))
	return cmd
}

// --- helpers ---

func newLogger() (*logger.Logger, error) {
	return logger.New(logger.Options{
		Mode:     viper.GetString("log-mode"),
		Level:    viper.GetString("log-level"),
		HashSalt: viper.GetString("log-salt"),
	})
}

func openRepo() (repo.Repo, func(), error) {
	cfg := db.Config{Workspace: viper.GetString("workspace"), DSN: viper.GetString("database-url")}
	conn, err := db.Open(cfg)
	if err != nil {
		return repo.Repo{}, nil, err
	}
	if err := migrate.Migrate(conn, cfg.Dialect()); err != nil {
		conn.Close()
		return repo.Repo{}, nil, err
	}
	return repo.New(conn, cfg.Dialect()), func() { conn.Close() }, nil
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	r, closeFn, err := openRepo()
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, r)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, repo.Repo) error) error {
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		wsCfg, err := config.LoadOptional(viper.GetString("workspace"))
		if err != nil {
			return err
		}
		_, cfg, err := app.ResolveStudyAndConfig(ctx, viper.GetString("study"), wsCfg, r)
		if err != nil {
			return err
		}
		return fn(ctx, engine.New(r, cfg, nil), r)
	})
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// setEnvValue sets key in the dotenv file at path, keeping other entries.
func setEnvValue(path, key, value string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		env = map[string]string{}
	}
	env[key] = value
	return godotenv.Write(env, path)
}
