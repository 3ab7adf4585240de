package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/propledger/propledger/internal/api"
	"github.com/propledger/propledger/internal/daemon"
)

// ─── Long-running commands ──────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scheduleCmd)

	serveCmd.Flags().Bool("with-scheduler", false, "Also run scheduled reconciliation in the background")
	scheduleCmd.Flags().Bool("once", false, "Run a single pass over all companies and exit")
}

// ─── serve ──────────────────────────────────────────────────────────────────

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the reconciliation HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	d, err := openDaemon(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := api.NewServer(d.Engine)
	if d.Config.Metrics.Enabled {
		srv.EnableMetrics()
	}
	httpSrv := &http.Server{
		Addr:              d.Config.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	withScheduler, _ := cmd.Flags().GetBool("with-scheduler")
	if withScheduler {
		sched, err := newScheduler(d)
		if err != nil {
			return err
		}
		go sched.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[api] listening on %s", httpSrv.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Printf("[api] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// ─── schedule ───────────────────────────────────────────────────────────────

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Reconcile every company at the configured interval",
	Args:  cobra.NoArgs,
	RunE:  runSchedule,
}

func runSchedule(cmd *cobra.Command, args []string) error {
	d, err := openDaemon(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	sched, err := newScheduler(d)
	if err != nil {
		return err
	}

	once, _ := cmd.Flags().GetBool("once")
	if !once {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return sched.Start(ctx)
	}

	runs, err := sched.RunOnce(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if wantJSON(cmd) {
		type companyRun struct {
			CompanyID string      `json:"company_id"`
			Result    interface{} `json:"result,omitempty"`
			Error     string      `json:"error,omitempty"`
		}
		view := make([]companyRun, len(runs))
		for i, r := range runs {
			view[i] = companyRun{CompanyID: r.CompanyID}
			if r.Err != nil {
				view[i].Error = r.Err.Error()
			} else {
				view[i].Result = r.Result
			}
		}
		return printJSON(out, view)
	}
	failed := 0
	for _, r := range runs {
		switch {
		case r.Err != nil:
			failed++
			fmt.Fprintf(out, "❌ %s: %v\n", r.CompanyID, r.Err)
		default:
			fmt.Fprintf(out, "✅ %s: %d reconciled, %d for review\n",
				r.CompanyID, r.Result.PaymentsReconciled, r.Result.ManualReviewRequired)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d companies failed", failed, len(runs))
	}
	return nil
}

func newScheduler(d *daemon.Daemon) (*daemon.Scheduler, error) {
	interval, err := d.Config.ScheduleInterval()
	if err != nil {
		return nil, err
	}
	return daemon.NewScheduler(d.DB, d.Engine, interval, d.Config.Schedule.MaxParallelCompanies), nil
}
