package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jbriggs-source/PestGenie-sub001/internal/app"
	"github.com/jbriggs-source/PestGenie-sub001/internal/config"
	"github.com/jbriggs-source/PestGenie-sub001/internal/connectivity"
	"github.com/jbriggs-source/PestGenie-sub001/internal/db"
	"github.com/jbriggs-source/PestGenie-sub001/internal/descriptor"
	"github.com/jbriggs-source/PestGenie-sub001/internal/domain"
	"github.com/jbriggs-source/PestGenie-sub001/internal/engine"
	"github.com/jbriggs-source/PestGenie-sub001/internal/repo"
	"github.com/jbriggs-source/PestGenie-sub001/internal/resolver"
	"github.com/jbriggs-source/PestGenie-sub001/internal/server"
	"github.com/jbriggs-source/PestGenie-sub001/internal/session"
	"github.com/jbriggs-source/PestGenie-sub001/internal/store"
	pestgeniesdk "github.com/jbriggs-source/PestGenie-sub001/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "pgen",
	Short: "PestGenie CLI",
	Long: `PestGenie runs technician routes with server-driven screens and offline sync.
Core concepts:
- Workspace: your .pestgenie directory with the database; settings live next to it in pestgenie.yml.
- Screens: versioned JSON component trees pushed by dispatch and rendered on device; invalid components are contained per node, unsupported versions fail closed.
- Routes and jobs: one technician's ordered stops for a day; statuses go pending -> inProgress -> completed, and skipped is the exit, always behind a reason code.
- Reason codes: the closed vocabulary that gates every skip and reorder; a code of the wrong category refuses the action.
- Sync: devices queue actions while offline and replay them in order on reconnect; rejected actions land in the journal instead of vanishing.
- Journal: the audit trail of everything applied or rejected; view it with 'pgen journal tail' or stream it to webhooks.
- Demo: 'pgen demo' seeds a route and walks the offline-to-online story end to end.`,
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
	viper.SetEnvPrefix("PESTGENIE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("technician-id", "dispatcher", "acting identity recorded in the journal")
	rootCmd.PersistentFlags().String("company", "", "company id (overrides pestgenie.yml)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("technician-id", rootCmd.PersistentFlags().Lookup("technician-id"))
	_ = viper.BindPFlag("company", rootCmd.PersistentFlags().Lookup("company"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(screenCmd())
	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(reasonCmd())
	rootCmd.AddCommand(journalCmd())
	rootCmd.AddCommand(deviceKeyCmd())
	rootCmd.AddCommand(technicianCmd())
	rootCmd.AddCommand(demoCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace, config, and database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			companyID := strings.TrimSpace(viper.GetString("company"))
			if companyID == "" {
				companyID = app.DefaultCompanyID
			}
			cfgPath := config.Path(workspace)
			if force {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault(companyID)), 0o644); err != nil {
					return err
				}
			} else if err := app.SeedConfigFile(workspace, companyID); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				codes, err := e.ListReasonCodes(ctx, false)
				if err != nil {
					return err
				}
				fmt.Printf("Workspace ready in %s\n", filepath.Join(workspace, ".pestgenie"))
				fmt.Printf("Config %s (company %s)\n", cfgPath, e.Config.Company.ID)
				fmt.Printf("Reason codes available: %d\n", len(codes))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite pestgenie.yml with defaults")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect workspace configuration"}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print pestgenie.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := config.Load(workspace); err != nil {
				return err
			}
			data, err := os.ReadFile(config.Path(workspace))
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate pestgenie.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			fmt.Printf("%s is valid: company %s, %d reason codes, %d webhooks\n",
				config.Path(workspace), cfg.Company.ID, len(cfg.ReasonCodes), len(cfg.Webhooks))
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				authCfg := server.AuthConfig{
					JWTSecret:             os.Getenv("PESTGENIE_JWT_SECRET"),
					AllowLegacyTechHeader: e.Config.Server.AllowLegacyHeader,
				}
				if authCfg.JWTSecret == "" {
					authCfg.JWTSecret = e.Config.Server.JWTSecret
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("PESTGENIE_JWT_SECRET (or server.jwt_secret in pestgenie.yml) is required for bearer auth")
				}
				if addr == "" {
					addr = fmt.Sprintf("%s:%d", e.Config.Server.Host, e.Config.Server.Port)
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
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
				fmt.Printf("Serving PestGenie API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.host:port from pestgenie.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func screenCmd() *cobra.Command {
	scr := &cobra.Command{Use: "screen", Short: "Manage server-driven screens"}
	scr.AddCommand(screenValidateCmd())
	scr.AddCommand(screenPushCmd())
	scr.AddCommand(screenListCmd())
	scr.AddCommand(screenShowCmd())
	scr.AddCommand(screenRenderCmd())
	scr.AddCommand(screenDeleteCmd())
	return scr
}

func screenValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a screen payload (JSON or YAML) without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readScreenFile(args[0])
			if err != nil {
				return err
			}
			scr, err := descriptor.DecodeScreen(data)
			if err != nil {
				return err
			}
			issues := descriptor.ValidateTree(&scr.Component)
			if len(issues) > 0 {
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Component", "Type", "Problem"})
				for _, issue := range issues {
					tw.AppendRow(table.Row{issue.NodeID, issue.Kind, issue.Msg})
				}
				tw.Render()
				return fmt.Errorf("%d invalid component(s)", len(issues))
			}
			count := 0
			descriptor.Walk(&scr.Component, func(*descriptor.ComponentDescriptor) bool {
				count++
				return true
			})
			fmt.Printf("%s: version %d (%s), %d components, no problems\n",
				args[0], scr.Version, descriptor.CompatibilityNote(scr.Version), count)
			return nil
		},
	}
	return cmd
}

func screenPushCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "push <name>",
		Short: "Store or update a screen definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readScreenFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				scr, err := e.UpsertScreen(ctx, args[0], data, viper.GetString("technician-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(scr)
				}
				fmt.Printf("Screen %s stored: version %d (%s)\n",
					scr.Name, scr.Version, descriptor.CompatibilityNote(scr.Version))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "payload file (.json, .yaml)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func screenListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List screens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				screens, err := e.ListScreens(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(screens)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "Version", "Updated"})
				for _, s := range screens {
					tw.AppendRow(table.Row{s.Name, s.Version, s.UpdatedAt.UTC().Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func screenShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Print a stored screen payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				scr, err := e.GetScreen(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(scr)
				}
				var pretty bytes.Buffer
				if err := json.Indent(&pretty, []byte(scr.Definition), "", "  "); err != nil {
					fmt.Println(scr.Definition)
					return nil
				}
				fmt.Println(pretty.String())
				return nil
			})
		},
	}
	return cmd
}

func screenRenderCmd() *cobra.Command {
	var jobID string
	var texts, toggles []string
	cmd := &cobra.Command{
		Use:   "render <name>",
		Short: "Resolve a screen against a job and print the tree",
		Long: `render decodes a stored screen and walks it the way a device would:
binding keys pull fields off the job, {{placeholders}} substitute from the
value store, and condition keys hide components whose toggle is off.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				payload, err := e.ScreenPayload(ctx, args[0])
				if err != nil {
					return err
				}
				scr, err := descriptor.DecodeScreen(payload)
				if err != nil {
					return err
				}
				st := store.New(nil, nil)
				rctx := resolver.Context{Store: st}
				if jobID != "" {
					job, err := e.GetJob(ctx, jobID)
					if err != nil {
						return err
					}
					rctx.Entity = job
					rctx.EntityID = job.ID
				}
				for _, kv := range texts {
					k, v, ok := strings.Cut(kv, "=")
					if !ok {
						return fmt.Errorf("--text wants key=value, got %q", kv)
					}
					st.SetText(store.Key(k, rctx.EntityID), v)
				}
				for _, k := range toggles {
					st.SetToggle(store.Key(k, rctx.EntityID), true)
				}
				printComponentTree(&scr.Component, rctx, "", true)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "job id to bind the screen against")
	cmd.Flags().StringArrayVar(&texts, "text", nil, "seed a text value, key=value (repeatable)")
	cmd.Flags().StringArrayVar(&toggles, "toggle", nil, "turn a toggle on (repeatable)")
	return cmd
}

func screenDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a screen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteScreen(ctx, args[0], viper.GetString("technician-id")); err != nil {
					return err
				}
				fmt.Printf("Deleted screen %s\n", args[0])
				return nil
			})
		},
	}
	return cmd
}

func routeCmd() *cobra.Command {
	rt := &cobra.Command{Use: "route", Short: "Manage routes"}
	rt.AddCommand(routeCreateCmd())
	rt.AddCommand(routeListCmd())
	rt.AddCommand(routeShowCmd())
	rt.AddCommand(routeStatusCmd())
	rt.AddCommand(routeReorderCmd())
	return rt
}

func routeCreateCmd() *cobra.Command {
	var id, technician, date, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a route",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				route, err := e.CreateRoute(ctx, engine.RouteCreateOptions{
					ID:           id,
					TechnicianID: technician,
					Date:         date,
					Name:         name,
					ActorID:      viper.GetString("technician-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(route)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "route id (generated when empty)")
	cmd.Flags().StringVar(&technician, "technician", "", "assigned technician id")
	cmd.Flags().StringVar(&date, "date", time.Now().UTC().Format("2006-01-02"), "route date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&name, "name", "", "route name")
	_ = cmd.MarkFlagRequired("technician")
	return cmd
}

func routeListCmd() *cobra.Command {
	var technician string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				routes, err := e.ListRoutes(ctx, technician)
				if err != nil {
					return err
				}
				return printJSONOrTable(routes)
			})
		},
	}
	cmd.Flags().StringVar(&technician, "technician", "", "filter by technician id")
	return cmd
}

func routeShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a route and its jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				route, err := e.GetRoute(ctx, args[0])
				if err != nil {
					return err
				}
				jobs, err := e.ListJobs(ctx, repo.JobFilters{RouteID: route.ID})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"route": route, "jobs": jobs})
				}
				header := fmt.Sprintf("Route %s on %s, technician %s", route.ID, route.Date, route.TechnicianID)
				if route.Name != "" {
					header += " - " + route.Name
				}
				fmt.Println(header)
				renderJobsTable(jobs)
				return nil
			})
		},
	}
	return cmd
}

func routeStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Show job counts by status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.RouteStatusCounts(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"route_id": args[0], "job_counts": counts})
				}
				fmt.Printf("Route %s jobs:\n", args[0])
				total := 0
				for _, s := range domain.JobStatuses {
					fmt.Printf("  %-11s %d\n", s, counts[string(s)])
					total += counts[string(s)]
				}
				fmt.Printf("  %-11s %d\n", "total", total)
				return nil
			})
		},
	}
	return cmd
}

func routeReorderCmd() *cobra.Command {
	var from, to int
	var reason string
	cmd := &cobra.Command{
		Use:   "reorder <id>",
		Short: "Move a job to a new position, gated by a move reason code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				jobs, err := e.ReorderJob(ctx, args[0], from, to, reason, viper.GetString("technician-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				renderJobsTable(jobs)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "current position of the job")
	cmd.Flags().IntVar(&to, "to", 0, "destination position")
	cmd.Flags().StringVar(&reason, "reason", "", "reason code (category move or any)")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func jobCmd() *cobra.Command {
	job := &cobra.Command{Use: "job", Short: "Manage jobs"}
	job.AddCommand(jobAddCmd())
	job.AddCommand(jobListCmd())
	job.AddCommand(jobShowCmd())
	job.AddCommand(jobUpdateCmd())
	return job
}

func jobAddCmd() *cobra.Command {
	var routeID, customer, address, at, notes, pinned string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a job to a route",
		RunE: func(cmd *cobra.Command, args []string) error {
			scheduled, err := time.Parse(time.RFC3339, at)
			if err != nil {
				return fmt.Errorf("--at must be RFC3339 (2006-01-02T15:04:05Z): %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.AddJob(ctx, engine.JobCreateOptions{
					RouteID:      routeID,
					CustomerName: customer,
					Address:      address,
					ScheduledAt:  scheduled,
					Notes:        notes,
					PinnedNotes:  pinned,
					ActorID:      viper.GetString("technician-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&routeID, "route", "", "route id")
	cmd.Flags().StringVar(&customer, "customer", "", "customer name")
	cmd.Flags().StringVar(&address, "address", "", "service address")
	cmd.Flags().StringVar(&at, "at", "", "scheduled time (RFC3339)")
	cmd.Flags().StringVar(&notes, "notes", "", "job notes")
	cmd.Flags().StringVar(&pinned, "pinned-notes", "", "dispatcher notes pinned to the job")
	_ = cmd.MarkFlagRequired("route")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func jobListCmd() *cobra.Command {
	var f repo.JobFilters
	cmd := &cobra.Command{
		Use:   "list <route-id>",
		Short: "List jobs on a route in service order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f.RouteID = args[0]
				jobs, err := e.ListJobs(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				renderJobsTable(jobs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (pending, inProgress, completed, skipped)")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max jobs to return")
	return cmd
}

func jobShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.GetJob(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(j)
				}
				fmt.Printf("Job %s on route %s (position %d)\n", j.ID, j.RouteID, j.Position)
				fmt.Printf("  Customer:  %s\n", j.CustomerName)
				if j.Address != "" {
					fmt.Printf("  Address:   %s\n", j.Address)
				}
				fmt.Printf("  Status:    %s\n", j.Status)
				fmt.Printf("  Scheduled: %s\n", j.ScheduledAt.UTC().Format(time.RFC3339))
				if j.StartTime != nil {
					fmt.Printf("  Started:   %s\n", j.StartTime.UTC().Format(time.RFC3339))
				}
				if j.CompletionTime != nil {
					fmt.Printf("  Completed: %s\n", j.CompletionTime.UTC().Format(time.RFC3339))
				}
				if j.Signature != nil {
					fmt.Printf("  Signature: %s\n", *j.Signature)
				}
				if j.Notes != "" {
					fmt.Printf("  Notes:     %s\n", j.Notes)
				}
				if j.PinnedNotes != "" {
					fmt.Printf("  Pinned:    %s\n", j.PinnedNotes)
				}
				return nil
			})
		},
	}
	return cmd
}

func jobUpdateCmd() *cobra.Command {
	var customer, address, at, notes, pinned string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update job fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.JobUpdateOptions{JobID: args[0], ActorID: viper.GetString("technician-id")}
			if cmd.Flags().Changed("customer") {
				opts.CustomerName = &customer
			}
			if cmd.Flags().Changed("address") {
				opts.Address = &address
			}
			if cmd.Flags().Changed("notes") {
				opts.Notes = &notes
			}
			if cmd.Flags().Changed("pinned-notes") {
				opts.PinnedNotes = &pinned
			}
			if cmd.Flags().Changed("at") {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC3339: %w", err)
				}
				opts.ScheduledAt = &t
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.UpdateJob(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&customer, "customer", "", "customer name")
	cmd.Flags().StringVar(&address, "address", "", "service address")
	cmd.Flags().StringVar(&at, "at", "", "scheduled time (RFC3339)")
	cmd.Flags().StringVar(&notes, "notes", "", "job notes")
	cmd.Flags().StringVar(&pinned, "pinned-notes", "", "dispatcher notes pinned to the job")
	return cmd
}

func reasonCmd() *cobra.Command {
	rc := &cobra.Command{Use: "reason", Short: "Manage the reason-code vocabulary"}
	rc.AddCommand(reasonListCmd())
	rc.AddCommand(reasonSetActiveCmd("enable", true))
	rc.AddCommand(reasonSetActiveCmd("disable", false))
	return rc
}

func reasonSetActiveCmd(verb string, active bool) *cobra.Command {
	short := "Enable a reason code"
	if !active {
		short = "Disable a reason code"
	}
	return &cobra.Command{
		Use:   verb + " <code>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.SetReasonCodeActive(ctx, args[0], active); err != nil {
					return err
				}
				fmt.Printf("Reason code %s %sd\n", args[0], verb)
				return nil
			})
		},
	}
}

func reasonListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reason codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				codes, err := e.ListReasonCodes(ctx, !all)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(codes)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Code", "Label", "Category", "Active"})
				for _, code := range codes {
					tw.AppendRow(table.Row{code.ID, code.Label, code.Category, code.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include inactive codes")
	return cmd
}

func journalCmd() *cobra.Command {
	jn := &cobra.Command{Use: "journal", Short: "Inspect the sync journal"}
	jn.AddCommand(journalTailCmd())
	return jn
}

func journalTailCmd() *cobra.Command {
	var n int
	var routeID, kind string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.LatestJournal(ctx, n, 0, routeID, kind)
				if err != nil {
					return err
				}
				return printJSONOrTable(entries)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	cmd.Flags().StringVar(&routeID, "route", "", "route filter")
	cmd.Flags().StringVar(&kind, "kind", "", "kind filter (job.start, job.complete, job.skip, job.move, sync.rejected, ...)")
	return cmd
}

func deviceKeyCmd() *cobra.Command {
	dk := &cobra.Command{Use: "device-key", Short: "Manage device API keys"}
	dk.AddCommand(deviceKeyCreateCmd())
	dk.AddCommand(deviceKeyListCmd())
	dk.AddCommand(deviceKeyRevokeCmd())
	return dk
}

func deviceKeyCreateCmd() *cobra.Command {
	var technician, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mint a device key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				token, key, err := e.MintDeviceKey(ctx, technician, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"token": token, "key": key})
				}
				fmt.Printf("Device key %s for technician %s\n", key.ID, key.TechnicianID)
				fmt.Printf("Token (shown once, store it now): %s\n", token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&technician, "technician", "", "technician id")
	cmd.Flags().StringVar(&name, "name", "", "device name")
	_ = cmd.MarkFlagRequired("technician")
	return cmd
}

func deviceKeyListCmd() *cobra.Command {
	var technician string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List device keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.ListDeviceKeys(ctx, technician)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Technician", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.TechnicianID, k.Name, k.CreatedAt.UTC().Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&technician, "technician", "", "filter by technician id")
	return cmd
}

func deviceKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke a device key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RevokeDeviceKey(ctx, args[0], viper.GetString("technician-id")); err != nil {
					return err
				}
				fmt.Printf("Revoked device key %s\n", args[0])
				return nil
			})
		},
	}
	return cmd
}

func technicianCmd() *cobra.Command {
	tech := &cobra.Command{Use: "technician", Short: "Manage technicians"}
	tech.AddCommand(technicianAddCmd())
	tech.AddCommand(technicianListCmd())
	return tech
}

func technicianAddCmd() *cobra.Command {
	var name, region string
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Create or update a technician",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpsertTechnician(ctx, domain.Technician{ID: args[0], Name: name, Region: region})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&region, "region", "", "service region")
	return cmd
}

func technicianListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List technicians",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				techs, err := e.ListTechnicians(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(techs)
			})
		},
	}
	return cmd
}

func demoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Walk a demo route offline, then reconnect and sync",
		Long: `demo seeds a route for the demo technician, brings up a local API server,
and drives a device session against it: the route is reordered, one stop is
skipped with a reason code, a gate-code note is captured, and the remaining
stops are started and completed, all while offline. The session then
reconnects and the queued actions replay in order through the sync endpoint.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return runDemo(ctx, e)
			})
		},
	}
	return cmd
}

func runDemo(ctx context.Context, e engine.Engine) error {
	tech := e.Config.Demo.Technician
	if tech == "" {
		tech = "tech-demo"
	}
	signature := e.Config.Demo.Signature
	if signature == "" {
		signature = "Demo Technician"
	}
	tick := time.Duration(e.Config.Demo.TickMillis) * time.Millisecond
	if tick <= 0 {
		tick = 400 * time.Millisecond
	}

	route, err := e.CreateRoute(ctx, engine.RouteCreateOptions{
		TechnicianID: tech,
		Date:         time.Now().UTC().Format("2006-01-02"),
		Name:         "Demo loop",
		ActorID:      tech,
	})
	if err != nil {
		return err
	}
	stops := []struct{ customer, address string }{
		{"Maple Street Apartments", "410 Maple St"},
		{"Harborview Diner", "88 Wharf Rd"},
		{"Cedar Mill Storage", "7 Cedar Mill Ln"},
	}
	first := time.Now().UTC().Truncate(time.Hour)
	for i, s := range stops {
		if _, err := e.AddJob(ctx, engine.JobCreateOptions{
			RouteID:      route.ID,
			CustomerName: s.customer,
			Address:      s.address,
			ScheduledAt:  first.Add(time.Duration(i) * time.Hour),
			ActorID:      tech,
		}); err != nil {
			return err
		}
	}
	jobs, err := e.ListJobs(ctx, repo.JobFilters{RouteID: route.ID})
	if err != nil {
		return err
	}
	fmt.Printf("Seeded route %s (%d stops) for technician %s\n", route.ID, len(jobs), tech)

	// Loopback only; the token never leaves the process.
	handler, err := server.New(server.Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     server.AuthConfig{JWTSecret: "pgen-demo-secret", AllowLegacyTechHeader: true},
	})
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	fmt.Printf("Local API on http://%s/v0\n", ln.Addr())

	client := pestgeniesdk.New("http://" + ln.Addr().String() + "/v0")
	if _, err := client.DevLogin(ctx, tech, signature); err != nil {
		return err
	}
	principal, err := client.WhoAmI(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Authenticated as %s via %s\n", principal.TechnicianID, principal.Source)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	monitor := connectivity.NewMonitor(false, logger)
	deliverer := &sdkDeliverer{client: client, routeID: route.ID}
	sess := session.New(session.Config{
		Jobs:          jobs,
		Monitor:       monitor,
		Deliverer:     deliverer,
		RetryInterval: tick,
		Log:           logger,
	})
	sess.Start()
	defer sess.Close()

	fmt.Println("\nWorking offline:")
	var opErr error
	err = sess.DoSync(func() {
		if _, err := sess.Controller.RequestMove(len(jobs)-1, 0); err != nil {
			opErr = err
			return
		}
		if err := sess.Controller.Commit("dispatcher-request"); err != nil {
			opErr = err
			return
		}
		if _, err := sess.Controller.RequestSkip(jobs[1].ID); err != nil {
			opErr = err
			return
		}
		if err := sess.Controller.Commit("customer-not-home"); err != nil {
			opErr = err
			return
		}
		sess.Store.SetText(store.Key("notes", jobs[0].ID), "Gate code 4417; check the crawl space")
	})
	if err == nil {
		err = opErr
	}
	if err != nil {
		return err
	}
	fmt.Printf("  moved %s to the front (dispatcher-request)\n", jobs[len(jobs)-1].CustomerName)
	fmt.Printf("  skipped %s (customer-not-home)\n", jobs[1].CustomerName)
	fmt.Printf("  noted the gate code for %s\n", jobs[0].CustomerName)

	sim := sess.Simulate(tick, signature)
	defer sim.Close()
	if err := waitSession(sess, tick, 30*time.Second, func() bool {
		counts := sess.Controller.StatusCounts()
		return counts[domain.JobPending]+counts[domain.JobInProgress] == 0
	}); err != nil {
		return err
	}
	sim.Close()

	var queued []domain.PendingAction
	if err := sess.DoSync(func() { queued = sess.Queue.Snapshot() }); err != nil {
		return err
	}
	fmt.Printf("\n%d actions queued while offline:\n", len(queued))
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Kind", "Job", "Key", "Value"})
	for _, a := range queued {
		tw.AppendRow(table.Row{a.Kind, a.EntityID, a.Key, clip(a.Value, 32)})
	}
	tw.Render()

	fmt.Println("\nReconnecting...")
	monitor.SetOnline(true)
	if err := waitSession(sess, tick, 30*time.Second, func() bool { return sess.Queue.Len() == 0 }); err != nil {
		return err
	}
	if res := deliverer.result(); res != nil {
		fmt.Printf("Sync applied %d and rejected %d of %d actions (journal cursor %d)\n",
			res.Applied, res.Rejected, len(queued), res.JournalCursor)
	}

	status, err := client.RouteStatus(ctx, route.ID)
	if err != nil {
		return err
	}
	fmt.Printf("\nRoute %s on the server:\n", route.ID)
	for _, s := range domain.JobStatuses {
		fmt.Printf("  %-11s %d\n", s, status.JobCounts[string(s)])
	}
	entries, err := client.Journal(ctx, route.ID, 10)
	if err != nil {
		return err
	}
	fmt.Println("\nLatest journal entries:")
	for _, entry := range entries {
		fmt.Printf("  %6d  %-13s job=%s\n", entry.ID, entry.Kind, entry.JobID)
	}
	fmt.Printf("\nThe route is kept in the workspace; inspect it with: pgen route show %s\n", route.ID)
	return nil
}

// sdkDeliverer replays queued device actions through the sync endpoint. A
// batch the server accepted counts as fully delivered even when individual
// actions were rejected: the rejections are durable in the journal.
type sdkDeliverer struct {
	client  *pestgeniesdk.Client
	routeID string

	mu   sync.Mutex
	last *pestgeniesdk.SyncResult
}

func (d *sdkDeliverer) Deliver(ctx context.Context, actions []domain.PendingAction) (int, error) {
	batch := make([]pestgeniesdk.SyncAction, 0, len(actions))
	for _, a := range actions {
		sa := pestgeniesdk.SyncAction{
			Kind:     string(a.Kind),
			EntityID: a.EntityID,
			Key:      a.Key,
			Value:    a.Value,
		}
		if !a.Timestamp.IsZero() {
			sa.Timestamp = a.Timestamp.UTC().Format(time.RFC3339)
		}
		batch = append(batch, sa)
	}
	res, err := d.client.SyncActions(ctx, d.routeID, batch)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	d.last = &res
	d.mu.Unlock()
	return len(actions), nil
}

func (d *sdkDeliverer) result() *pestgeniesdk.SyncResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// waitSession polls cond on the session loop until it holds or limit passes.
func waitSession(sess *session.Session, tick, limit time.Duration, cond func() bool) error {
	deadline := time.Now().Add(limit)
	for {
		var ok bool
		if err := sess.DoSync(func() { ok = cond() }); err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("demo timed out waiting for the device session")
		}
		time.Sleep(tick)
	}
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, closer, err := app.OpenEngine(ctx, viper.GetString("workspace"), viper.GetString("company"))
	if err != nil {
		return err
	}
	defer closer()
	return fn(ctx, e)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

// readScreenFile loads a screen payload, converting YAML-authored files to
// the JSON wire format the descriptor package decodes.
func readScreenFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		data, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("convert %s: %w", path, err)
		}
	}
	return data, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderJobsTable(jobs []domain.Job) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Pos", "ID", "Customer", "Status", "Scheduled"})
	for _, j := range jobs {
		tw.AppendRow(table.Row{j.Position, j.ID, j.CustomerName, j.Status, j.ScheduledAt.UTC().Format("2006-01-02 15:04")})
	}
	tw.Render()
}

func printComponentTree(d *descriptor.ComponentDescriptor, rctx resolver.Context, prefix string, last bool) {
	connector := "├── "
	newPrefix := prefix + "│   "
	if last {
		connector = "└── "
		newPrefix = prefix + "    "
	}
	fmt.Printf("%s%s%s\n", prefix, connector, componentLine(d, rctx))
	if !resolver.ResolveCondition(d, rctx) {
		return
	}
	kids := make([]*descriptor.ComponentDescriptor, 0, len(d.Children)+1)
	for i := range d.Children {
		kids = append(kids, &d.Children[i])
	}
	if d.ItemTemplate != nil {
		kids = append(kids, d.ItemTemplate)
	}
	for i, kid := range kids {
		printComponentTree(kid, rctx, newPrefix, i == len(kids)-1)
	}
}

func componentLine(d *descriptor.ComponentDescriptor, rctx resolver.Context) string {
	var b strings.Builder
	b.WriteString(string(d.Kind))
	if s := resolver.ResolveText(d, rctx); s != "" {
		fmt.Fprintf(&b, " %q", s)
	} else if s := resolver.ResolveLabel(d, rctx); s != "" {
		fmt.Fprintf(&b, " %q", s)
	}
	if d.ValueKey != "" {
		fmt.Fprintf(&b, " valueKey=%s", d.ValueKey)
	}
	if d.Kind == descriptor.KindNavigationLink && d.Destination != "" {
		fmt.Fprintf(&b, " -> %s", d.Destination)
	}
	if !resolver.ResolveCondition(d, rctx) {
		b.WriteString(" (hidden)")
	}
	return b.String()
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
