package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tanpawarit/growth-orchestrator/agent/agents/playbook"
	"github.com/tanpawarit/growth-orchestrator/agent/agents/query"
	contractx "github.com/tanpawarit/growth-orchestrator/agent/contract"
	"github.com/tanpawarit/growth-orchestrator/agent/delivery"
	"github.com/tanpawarit/growth-orchestrator/agent/enrollment"
	"github.com/tanpawarit/growth-orchestrator/agent/scheduler"
	configx "github.com/tanpawarit/growth-orchestrator/pkg/config"
	_ "github.com/tanpawarit/growth-orchestrator/pkg/logger/autoload"
)

var envFile string

func main() {
	root := &cobra.Command{
		Use:           "growth-orchestrator",
		Short:         "Agentic orchestration for the growth program dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configx.SetEnvFile(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env", "", "env file to load (default .env when present)")

	root.AddCommand(
		serveCmd(),
		migrateCmd(),
		playbookCmd(),
		reviewCmd(),
		digestCmd(),
		similarityCmd(),
		askCmd(),
		deliverCmd(),
		enrollCmd(),
		outcomeCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requireFlag(cmd *cobra.Command, names ...string) error {
	for _, name := range names {
		v, _ := cmd.Flags().GetString(name)
		if v == "" {
			return fmt.Errorf("--%s is required", name)
		}
	}
	return nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, delivery worker and HTTP endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			appCfg, err := configx.New[AppConfig]("")
			if err != nil {
				return err
			}
			schedCfg, err := configx.New[scheduler.Config]("SCHEDULE")
			if err != nil {
				return err
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			sched, err := scheduler.New(*schedCfg, a.store)
			if err != nil {
				return err
			}
			jobs := []scheduler.Job{
				{Name: "weekly_review", Spec: schedCfg.WeeklyReview, Run: func(ctx context.Context, tenantID string) error {
					_, err := a.reviewer.Run(ctx, tenantID)
					return err
				}},
				{Name: "daily_digest", Spec: schedCfg.DailyDigest, Run: func(ctx context.Context, tenantID string) error {
					_, err := a.digest.Run(ctx, tenantID)
					return err
				}},
				{Name: "similarity_refresh", Spec: schedCfg.SimilarityScan, Run: func(ctx context.Context, tenantID string) error {
					_, err := a.index.RefreshAll(ctx, tenantID)
					return err
				}},
			}
			for _, job := range jobs {
				if err := sched.Register(ctx, job); err != nil {
					return err
				}
			}
			sched.Start()
			defer sched.Stop()

			go func() {
				if err := delivery.NewWorker(a.queue).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error().Err(err).Msg("delivery worker exited")
				}
			}()

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.Handle("/v1/query", query.Handler(a.query))
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
			})
			srv := &http.Server{
				Addr:              appCfg.HTTPAddr,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", srv.Addr).Msg("http server listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					return err
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Migrate(cmd.Context()); err != nil {
				return err
			}
			log.Info().Msg("migration complete")
			return nil
		},
	}
}

func playbookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playbook",
		Short: "Generate a playbook for one account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag(cmd, "tenant", "account"); err != nil {
				return err
			}
			tenant, _ := cmd.Flags().GetString("tenant")
			account, _ := cmd.Flags().GetString("account")
			category, _ := cmd.Flags().GetString("category")

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.playbook.Generate(cmd.Context(), playbook.Request{TenantID: tenant, AccountID: account, Category: category})
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().String("tenant", "", "tenant id")
	cmd.Flags().String("account", "", "account id")
	cmd.Flags().String("category", "", "requested playbook type")
	return cmd
}

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Run the weekly review for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag(cmd, "tenant"); err != nil {
				return err
			}
			tenant, _ := cmd.Flags().GetString("tenant")

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := a.reviewer.Run(cmd.Context(), tenant)
			if err != nil {
				return err
			}
			return printJSON(sum)
		},
	}
	cmd.Flags().String("tenant", "", "tenant id")
	return cmd
}

func digestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Send the daily digest to every active rep of a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag(cmd, "tenant"); err != nil {
				return err
			}
			tenant, _ := cmd.Flags().GetString("tenant")

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := a.digest.Run(cmd.Context(), tenant)
			if err != nil {
				return err
			}
			return printJSON(sum)
		},
	}
	cmd.Flags().String("tenant", "", "tenant id")
	return cmd
}

func similarityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "similarity",
		Short: "Refresh embeddings and similarity pairs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag(cmd, "tenant"); err != nil {
				return err
			}
			tenant, _ := cmd.Flags().GetString("tenant")
			account, _ := cmd.Flags().GetString("account")

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if account == "" {
				res, err := a.index.RefreshAll(cmd.Context(), tenant)
				if err != nil {
					return err
				}
				return printJSON(res)
			}
			if _, err := a.index.Embed(cmd.Context(), tenant, account); err != nil {
				return err
			}
			if err := a.index.FindSimilar(cmd.Context(), tenant, account, 0); err != nil {
				return err
			}
			pairs, err := a.store.ListSimilarityPairs(cmd.Context(), tenant, account)
			if err != nil {
				return err
			}
			return printJSON(pairs)
		},
	}
	cmd.Flags().String("tenant", "", "tenant id")
	cmd.Flags().String("account", "", "refresh a single account")
	return cmd
}

// stdoutChunks prints streamed tokens as they arrive.
type stdoutChunks struct{}

func (stdoutChunks) WriteChunk(_ context.Context, c contractx.Chunk) error {
	switch c.Type {
	case contractx.ChunkToken:
		_, err := fmt.Fprint(os.Stdout, c.Content)
		return err
	case contractx.ChunkError:
		_, err := fmt.Fprintf(os.Stderr, "\nerror: %s\n", c.Content)
		return err
	default:
		_, err := fmt.Fprintln(os.Stdout)
		return err
	}
}

func askCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Stream an answer about an account or a rep's portfolio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag(cmd, "tenant"); err != nil {
				return err
			}
			tenant, _ := cmd.Flags().GetString("tenant")
			account, _ := cmd.Flags().GetString("account")
			owner, _ := cmd.Flags().GetString("owner")

			req := query.Request{TenantID: tenant, Question: args[0], OwnerEmail: owner, Scope: query.ScopePortfolio}
			if account != "" {
				req.Scope = query.ScopeAccount
				req.AccountID = account
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			return a.query.Stream(cmd.Context(), req, stdoutChunks{})
		},
	}
	cmd.Flags().String("tenant", "", "tenant id")
	cmd.Flags().String("account", "", "ask about one account")
	cmd.Flags().String("owner", "", "rep email for portfolio questions")
	return cmd
}

func deliverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deliver",
		Short: "Run one delivery pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")

			a, err := storageApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var res delivery.Result
			if tenant == "" {
				res, err = a.queue.ProcessAll(cmd.Context())
			} else {
				res, err = a.queue.ProcessPending(cmd.Context(), tenant)
			}
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().String("tenant", "", "limit the pass to one tenant")
	return cmd
}

// storageApp wires storage and delivery only, without the reasoning stack.
func storageApp(ctx context.Context) (*app, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	a := &app{store: st}
	if err := a.wireDelivery(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func enrollCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Enroll a discovered account in the program",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag(cmd, "tenant", "account"); err != nil {
				return err
			}
			tenant, _ := cmd.Flags().GetString("tenant")
			account, _ := cmd.Flags().GetString("account")

			a, err := storageApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			acc, err := a.enrollment.Enroll(cmd.Context(), tenant, account)
			if err != nil {
				return err
			}
			return printJSON(acc)
		},
	}
	cmd.Flags().String("tenant", "", "tenant id")
	cmd.Flags().String("account", "", "account id")
	return cmd
}

func outcomeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outcome",
		Short: "Record a sales outcome for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag(cmd, "tenant", "account", "result"); err != nil {
				return err
			}
			tenant, _ := cmd.Flags().GetString("tenant")
			account, _ := cmd.Flags().GetString("account")
			result, _ := cmd.Flags().GetString("result")
			value, _ := cmd.Flags().GetFloat64("value")
			notes, _ := cmd.Flags().GetString("notes")

			a, err := storageApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			return a.enrollment.RecordOutcome(cmd.Context(), enrollment.Outcome{
				TenantID:  tenant,
				AccountID: account,
				Outcome:   result,
				Value:     value,
				Notes:     notes,
			})
		},
	}
	cmd.Flags().String("tenant", "", "tenant id")
	cmd.Flags().String("account", "", "account id")
	cmd.Flags().String("result", "", "won, lost, stalled or progressed")
	cmd.Flags().Float64("value", 0, "deal value")
	cmd.Flags().String("notes", "", "free-text notes")
	return cmd
}
