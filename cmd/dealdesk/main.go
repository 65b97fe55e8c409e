package main

import (
	"bufio"
	"context"
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
	"go.uber.org/zap"

	"dealdesk/internal/app"
	"dealdesk/internal/audit"
	"dealdesk/internal/config"
	"dealdesk/internal/domain"
	"dealdesk/internal/oracle"
	"dealdesk/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "dealdesk",
	Short: "DealDesk CLI",
	Long: `DealDesk is a command-driven CRM: type what you want in plain language
and it creates, updates, and analyzes sales leads for you.
- Leads move through a fixed pipeline: intake -> qualified -> proposal -> negotiation -> closed.
- Every attempted action lands in an append-only audit trail.
- Your role (admin, manager, sales, viewer) decides what you may do.
- Entering the qualified stage scores the lead BANT-style.`,
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
	viper.SetEnvPrefix("DEALDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("role", "sales", "actor role (admin, manager, sales, viewer)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("role", rootCmd.PersistentFlags().Lookup("role"))
}

func registerCommands() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(leadCmd())
	rootCmd.AddCommand(pipelineCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func currentRole() (domain.Role, error) {
	role, ok := domain.ParseRole(viper.GetString("role"))
	if !ok {
		return "", fmt.Errorf("unknown role %q", viper.GetString("role"))
	}
	return role, nil
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [command...]",
		Short: "Process free-text commands (interactive without args)",
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := currentRole()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				if len(args) > 0 {
					env, err := a.Engine.ProcessCommand(ctx, strings.Join(args, " "), role)
					if err != nil {
						return err
					}
					return printEnvelope(env)
				}
				fmt.Printf("DealDesk ready (role: %s). Type \"help\" for examples, ctrl-d to quit.\n", role)
				scanner := bufio.NewScanner(os.Stdin)
				for {
					fmt.Print("> ")
					if !scanner.Scan() {
						fmt.Println()
						return scanner.Err()
					}
					env, err := a.Engine.ProcessCommand(ctx, scanner.Text(), role)
					if err != nil {
						return err
					}
					if err := printEnvelope(env); err != nil {
						return err
					}
				}
			})
		},
	}
	return cmd
}

func leadCmd() *cobra.Command {
	lead := &cobra.Command{Use: "lead", Short: "Manage leads"}
	lead.AddCommand(leadListCmd())
	lead.AddCommand(leadCreateCmd())
	lead.AddCommand(leadShowCmd())
	lead.AddCommand(leadAdvanceCmd())
	return lead
}

func leadListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List leads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				leads, err := a.Engine.Repo.ListLeads(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(leads)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "Company", "Value", "Stage", "Prob", "Score"})
				for _, l := range leads {
					score := "-"
					if l.QualificationScore != nil {
						score = fmt.Sprintf("%d", *l.QualificationScore)
					}
					tw.AppendRow(table.Row{l.Name, l.Company, l.Value, l.Stage, l.Probability, score})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func leadCreateCmd() *cobra.Command {
	var name, company, notes string
	var value int64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a lead directly",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				lead, err := a.Engine.CreateLead(ctx, name, company, value, notes)
				if err != nil {
					return err
				}
				return printJSONOrPretty(lead)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "lead name")
	cmd.Flags().StringVar(&company, "company", "", "company (defaults to name)")
	cmd.Flags().Int64Var(&value, "value", 0, "deal value")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func leadShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				lead, err := a.Engine.Repo.GetLead(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrPretty(lead)
			})
		},
	}
}

func leadAdvanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "advance <id>",
		Short: "Advance a lead to the next stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := currentRole()
			if err != nil {
				return err
			}
			if role == domain.RoleViewer {
				return fmt.Errorf("viewers cannot advance leads")
			}
			// Entering the qualified stage scores the lead, so advance
			// needs the live oracle.
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				lead, err := a.Engine.AdvanceStage(ctx, args[0], string(role))
				if err != nil {
					return err
				}
				return printJSONOrPretty(lead)
			})
		},
	}
}

func pipelineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pipeline",
		Short: "Show per-stage lead counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				counts, err := a.Engine.Pipeline(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					out := map[string]int{}
					for _, s := range domain.StageOrder {
						out[string(s)] = counts[s]
					}
					return printJSON(out)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Stage", "Leads"})
				for _, s := range domain.StageOrder {
					tw.AppendRow(table.Row{s, counts[s]})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func auditCmd() *cobra.Command {
	auditRoot := &cobra.Command{Use: "audit", Short: "Inspect the audit trail"}
	auditRoot.AddCommand(auditListCmd())
	auditRoot.AddCommand(auditExportCmd())
	return auditRoot
}

func auditListCmd() *cobra.Command {
	var status, severity, search string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				entries, err := a.Engine.Audit.Query(ctx, auditFilter(status, severity, search, limit))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Time", "Actor", "Action", "Status", "Severity", "Details"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.Timestamp, e.Actor, e.Action, e.Status, e.Severity, e.Details})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (success, failed, denied)")
	cmd.Flags().StringVar(&severity, "severity", "", "filter by severity (low, medium, high)")
	cmd.Flags().StringVar(&search, "search", "", "substring filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "max entries (0 = all)")
	return cmd
}

func auditExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the audit trail as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				w := os.Stdout
				if out != "" {
					f, err := os.Create(out)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				return a.Engine.Audit.ExportCSV(ctx, w)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				leads, err := a.Engine.Repo.CountLeads(ctx)
				if err != nil {
					return err
				}
				entries, err := a.Engine.Audit.Count(ctx)
				if err != nil {
					return err
				}
				return printJSONOrPretty(map[string]any{
					"leads":         leads,
					"audit_entries": entries,
					"oracle_model":  a.Config.Oracle.Model,
					"workspace":     viper.GetString("workspace"),
				})
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfgRoot := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cfgRoot.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default dealdesk.yml",
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
	})
	cfgRoot.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrPretty(cfg)
		},
	})
	return cfgRoot
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret:       os.Getenv("DEALDESK_JWT_SECRET"),
					AllowRoleHeader: a.Config.Server.AllowRoleHeader,
					Logger:          a.Log,
				}
				if authCfg.JWTSecret == "" && !authCfg.AllowRoleHeader {
					return fmt.Errorf("DEALDESK_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving DealDesk API on http://%s%s\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

// --- helpers ---

// withApp wires the engine over the workspace store. Commands that never
// touch the language model run with the oracle disabled so they work
// without an API key.
func withApp(ctx context.Context, needOracle bool, fn func(context.Context, *app.App) error) error {
	log, err := buildLogger()
	if err != nil {
		return err
	}
	defer log.Sync()
	opts := app.Options{Workspace: viper.GetString("workspace"), Log: log}
	if !needOracle {
		opts.Interpreter = oracle.Disabled{}
		opts.Scorer = oracle.Disabled{}
	}
	a, err := app.Setup(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func auditFilter(status, severity, search string, limit int) audit.Filter {
	return audit.Filter{
		Status:   domain.AuditStatus(status),
		Severity: domain.AuditSeverity(severity),
		Search:   search,
		Limit:    limit,
	}
}

func buildLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if os.Getenv("DEALDESK_DEBUG") != "" {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

func printEnvelope(env domain.ResponseEnvelope) error {
	if viper.GetBool("json") {
		return printJSON(env)
	}
	if env.Text != "" {
		fmt.Println(env.Text)
	}
	if env.Kind == domain.EnvelopeAnalysis && env.Payload != nil {
		b, _ := json.MarshalIndent(env.Payload, "", "  ")
		fmt.Println(string(b))
	}
	return nil
}

func printJSONOrPretty(v any) error {
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
