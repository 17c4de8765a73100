package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"opsline/internal/config"
	"opsline/internal/db"
	"opsline/internal/domain"
	"opsline/internal/engine"
	"opsline/internal/identity"
	"opsline/internal/migrate"
	"opsline/internal/repo"
	"opsline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ops",
	Short: "Opsline CLI",
	Long: `Opsline is an ERP/CRM backend: projects, tasks, leads and payment
phases behind a role-based API.
- Workspace: the .opsline directory holding the SQLite database, with
  opsline.yml alongside it for server and auth settings.
- Users and roles: accounts hold one or more roles; permissions come
  from the roles, never from the account directly.
- Projects: client work numbered PRJ-YYYY-NNN with managers and team.
- Tasks: assigned work that is accepted (starting the timer) or
  rejected, then paused, resumed and completed with tracked durations.
- Leads: prospects numbered LEAD-YYYY-NNN moving down the funnel until
  conversion creates a client (and optionally a project).
- Payments: per-project phases settled into numbered transactions.
The CLI talks to the local database directly and is meant for
operators; day-to-day clients go through 'ops serve'.`,
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
	viper.SetEnvPrefix("OPSLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Int64("actor", 0, "acting user id recorded in the activity log")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(leadCmd())
	rootCmd.AddCommand(paymentCmd())
	rootCmd.AddCommand(logCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", path)
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			v, err := migrate.Version(conn)
			if err != nil {
				return err
			}
			fmt.Printf("Database ready at %s (schema version %d)\n", db.Path(workspace), v)
			return nil
		},
	}
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			v, err := migrate.Version(conn)
			if err != nil {
				return err
			}
			fmt.Printf("schema version %d\n", v)
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if basePath != "" {
				cfg.Server.BasePath = basePath
			}
			if cfg.Auth.JWTSecret == "" || cfg.Auth.JWTSecret == "change-me" {
				return fmt.Errorf("set auth.jwt_secret in %s before serving", config.Path(workspace))
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			handler, err := server.New(server.Config{
				Engine:   e,
				Identity: identityService(conn, cfg),
				BasePath: cfg.Server.BasePath,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Opsline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", cfg.Server.Addr, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides config)")
	return cmd
}

func userCmd() *cobra.Command {
	user := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	user.AddCommand(userCreateCmd())
	user.AddCommand(userListCmd())
	user.AddCommand(userGrantCmd())
	user.AddCommand(userRevokeCmd())
	user.AddCommand(userActiveCmd("activate", true))
	user.AddCommand(userActiveCmd("deactivate", false))
	user.AddCommand(userResetPasswordCmd())
	user.AddCommand(userTokenCmd())
	return user
}

func userCreateCmd() *cobra.Command {
	var email, password, fullName, phone string
	var roles []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, svc identity.Service) error {
				hash, err := svc.HashPassword(password)
				if err != nil {
					return err
				}
				roleNames := make([]domain.Role, 0, len(roles))
				for _, r := range roles {
					roleNames = append(roleNames, domain.Role(r))
				}
				u, err := e.CreateUser(ctx, engine.UserCreateOptions{
					Email:        email,
					PasswordHash: hash,
					FullName:     fullName,
					Phone:        phone,
					Roles:        roleNames,
					ActorID:      viper.GetInt64("actor"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "initial password")
	cmd.Flags().StringVar(&fullName, "name", "", "full name")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	cmd.Flags().StringArrayVar(&roles, "role", []string{}, "role name (repeatable)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func userListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List user accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ identity.Service) error {
				users, err := e.Repo.ListUsers(ctx, activeOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Email", "Name", "Roles", "Active"})
				for _, u := range users {
					roles := make([]string, 0, len(u.Roles))
					for _, r := range u.Roles {
						roles = append(roles, string(r))
					}
					tw.AppendRow(table.Row{u.ID, u.Email, u.FullName, strings.Join(roles, ","), u.IsActive})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active accounts")
	return cmd
}

func userGrantCmd() *cobra.Command {
	var userID int64
	var role string
	cmd := &cobra.Command{
		Use:   "grant-role",
		Short: "Grant a role to a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ identity.Service) error {
				return e.AssignUserRole(ctx, userID, domain.Role(role), viper.GetInt64("actor"))
			})
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id")
	cmd.Flags().StringVar(&role, "role", "", "role name")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func userRevokeCmd() *cobra.Command {
	var userID int64
	var role string
	cmd := &cobra.Command{
		Use:   "revoke-role",
		Short: "Revoke a role from a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ identity.Service) error {
				return e.RemoveUserRole(ctx, userID, domain.Role(role), viper.GetInt64("actor"))
			})
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id")
	cmd.Flags().StringVar(&role, "role", "", "role name")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func userActiveCmd(use string, active bool) *cobra.Command {
	var userID int64
	short := "Deactivate a user account"
	if active {
		short = "Activate a user account"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ identity.Service) error {
				return e.SetUserActive(ctx, userID, active, viper.GetInt64("actor"))
			})
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func userResetPasswordCmd() *cobra.Command {
	var userID int64
	var password string
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Reset a password, forcing a change on next login",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, svc identity.Service) error {
				hash, err := svc.HashPassword(password)
				if err != nil {
					return err
				}
				return e.SetUserPassword(ctx, userID, hash, true, viper.GetInt64("actor"))
			})
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id")
	cmd.Flags().StringVar(&password, "password", "", "new password")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func userTokenCmd() *cobra.Command {
	var userID int64
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, svc identity.Service) error {
				if _, err := svc.Resolve(ctx, userID); err != nil {
					return err
				}
				token, err := svc.IssueToken(userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"token": token})
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{
		Use:   "project",
		Short: "Inspect projects",
	}
	prj.AddCommand(projectListCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	var f repo.ProjectFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ identity.Service) error {
				items, err := e.Repo.ListProjects(ctx, f, repo.Predicate{})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Number", "Name", "Status", "Budget", "Client"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Number, p.Name, p.Status, fmt.Sprintf("%.2f %s", p.TotalBudget, p.Currency), p.ClientID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().Int64Var(&f.ClientID, "client", 0, "client id filter")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Inspect tasks",
	}
	task.AddCommand(taskListCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var status, priority string
	var projectID, assignee int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ identity.Service) error {
				tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
					Status:     domain.TaskStatus(status),
					Priority:   domain.Priority(priority),
					ProjectID:  projectID,
					AssignedTo: assignee,
				}, repo.Predicate{})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Assignee", "Project"})
				for _, t := range tasks {
					assignee := ""
					if t.AssignedTo != nil {
						assignee = fmt.Sprint(*t.AssignedTo)
					}
					project := ""
					if t.ProjectID != nil {
						project = fmt.Sprint(*t.ProjectID)
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, assignee, project})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&priority, "priority", "", "priority filter")
	cmd.Flags().Int64Var(&projectID, "project", 0, "project id filter")
	cmd.Flags().Int64Var(&assignee, "assignee", 0, "assignee filter")
	return cmd
}

func leadCmd() *cobra.Command {
	lead := &cobra.Command{
		Use:   "lead",
		Short: "Inspect leads",
	}
	lead.AddCommand(leadListCmd())
	return lead
}

func leadListCmd() *cobra.Command {
	var status, search string
	var assignee int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List leads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ identity.Service) error {
				leads, err := e.Repo.ListLeads(ctx, repo.LeadFilters{
					Status:     domain.LeadStatus(status),
					AssignedTo: assignee,
					Search:     search,
				}, repo.Predicate{})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(leads)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Number", "Name", "Company", "Status", "Assignee"})
				for _, l := range leads {
					assignee := ""
					if l.AssignedTo != nil {
						assignee = fmt.Sprint(*l.AssignedTo)
					}
					tw.AppendRow(table.Row{l.ID, l.Number, l.FirstName + " " + l.LastName, l.CompanyName, l.Status, assignee})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&search, "search", "", "search name, email or company")
	cmd.Flags().Int64Var(&assignee, "assignee", 0, "assignee filter")
	return cmd
}

func paymentCmd() *cobra.Command {
	pay := &cobra.Command{
		Use:   "payment",
		Short: "Inspect payment phases",
	}
	pay.AddCommand(paymentPendingCmd())
	pay.AddCommand(paymentSummaryCmd())
	return pay
}

func paymentPendingCmd() *cobra.Command {
	var projectID int64
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List pending phases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ identity.Service) error {
				scope := repo.Predicate{}
				if projectID != 0 {
					scope = repo.Predicate{Where: "project_id=?", Args: []any{projectID}}
				}
				pending, err := e.PendingPayments(ctx, scope)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(pending)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Bucket", "ID", "Project", "Phase", "Amount", "Due"})
				appendBucket := func(name string, phases []domain.PaymentPhase) {
					for _, p := range phases {
						tw.AppendRow(table.Row{name, p.ID, p.ProjectID, p.Name, fmt.Sprintf("%.2f", p.Amount), p.DueDate})
					}
				}
				appendBucket("overdue", pending.Overdue)
				appendBucket("due today", pending.DueToday)
				appendBucket("due soon", pending.DueSoon)
				appendBucket("upcoming", pending.Upcoming)
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&projectID, "project", 0, "project id filter")
	return cmd
}

func paymentSummaryCmd() *cobra.Command {
	var projectID int64
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Ledger summary for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ identity.Service) error {
				s, err := e.Repo.ProjectPaymentSummary(ctx, projectID)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().Int64Var(&projectID, "project", 0, "project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Activity log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var entityType string
	var entityID, userID int64
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail recorded actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ identity.Service) error {
				items, err := e.Repo.ListActivity(ctx, repo.ActivityFilters{
					EntityType: entityType,
					EntityID:   entityID,
					UserID:     userID,
				}, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "User", "Action", "Entity", "Description"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.CreatedAt, a.UserID, a.Action, fmt.Sprintf("%s/%d", a.EntityType, a.EntityID), a.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "entity type filter")
	cmd.Flags().Int64Var(&entityID, "entity-id", 0, "entity id filter")
	cmd.Flags().Int64Var(&userID, "user", 0, "user filter")
	return cmd
}

// --- helpers ---

func identityService(conn *sql.DB, cfg *config.Config) identity.Service {
	ttl, err := time.ParseDuration(cfg.Auth.TokenTTL)
	if err != nil || ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return identity.Service{
		Repo:       repo.Repo{DB: conn},
		JWTSecret:  cfg.Auth.JWTSecret,
		TokenTTL:   ttl,
		BcryptCost: cfg.Auth.BcryptCost,
	}
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, identity.Service) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e, identityService(conn, cfg))
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
