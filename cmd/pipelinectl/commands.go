package main

import (
	"fmt"
	"strings"

	"github.com/cuongbtq/briefcast/internal/admission"
	"github.com/cuongbtq/briefcast/internal/maintenance"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			st, err := ctx.store()
			if err != nil {
				return err
			}
			applied, err := st.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", strings.Join(applied, ", "))
			return nil
		},
	}
}

func newAdmitCommand(ctx *commandContext) *cobra.Command {
	var typeNames []string

	cmd := &cobra.Command{
		Use:   "admit",
		Short: "Run one admission pass now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			scheduler, err := newScheduler(ctx, typeNames)
			if err != nil {
				return err
			}
			stats, err := scheduler.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Processed %d, enqueued %d, skipped %d, errors %d\n",
				stats.Processed, stats.Enqueued, stats.Skipped, stats.Errors)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&typeNames, "type", "t", nil, "Job types to admit (default: admission.types)")
	return cmd
}

func newSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail jobs stuck past their dwell limit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			st, err := ctx.store()
			if err != nil {
				return err
			}
			watchdog := maintenance.NewWatchdog(st, ctx.config.Pipeline.Watchdog, ctx.logger)
			failed, err := watchdog.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Failed %d stuck jobs\n", failed)
			return nil
		},
	}
}

func newReconcileCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Relink or delete stored media no job points at",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			st, err := ctx.store()
			if err != nil {
				return err
			}
			objects, err := ctx.objects(cmd.Context())
			if err != nil {
				return err
			}
			cfg := ctx.config
			reconciler := maintenance.NewReconciler(st, objects,
				cfg.Pipeline.Reconcile.GracePeriod, cfg.Providers.Speech.Bitrate, ctx.logger)
			report, err := reconciler.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scanned %d, relinked %d, deleted %d, errors %d\n",
				report.Scanned, report.Relinked, report.Deleted, report.Errors)
			return nil
		},
	}
}

func newRequeueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue-orphans",
		Short: "Republish pending jobs that were never picked up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			st, err := ctx.store()
			if err != nil {
				return err
			}
			publisher, err := ctx.publisher()
			if err != nil {
				return err
			}
			rc := ctx.config.Pipeline.Reconcile
			requeuer := maintenance.NewRequeuer(st, publisher, rc.RequeuePendingAfter, rc.RequeueBatch, ctx.logger)
			published, err := requeuer.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d jobs\n", published)
			return nil
		},
	}
}

func newRegenerateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate <job-id>",
		Short: "Admit a new job for the subject, type and window of a failed job",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(1)(cmd, args); err != nil {
				return err
			}
			if _, err := uuid.Parse(args[0]); err != nil {
				return fmt.Errorf("job id must be a valid UUID: %q", args[0])
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			scheduler, err := newScheduler(ctx, nil)
			if err != nil {
				return err
			}
			st, err := ctx.store()
			if err != nil {
				return err
			}
			directory := admission.NewDirectory(st.DB(), ctx.config.Admission.FreeTierLimit)
			job, err := maintenance.NewRegenerator(st, scheduler, directory).Regenerate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Admitted %s (%s %s)\n", job.ID, job.Type, job.Status)
			return nil
		},
	}
}

// newScheduler builds an admission scheduler for typeNames, falling back to
// the configured admission types
func newScheduler(ctx *commandContext, typeNames []string) (*admission.Scheduler, error) {
	st, err := ctx.store()
	if err != nil {
		return nil, err
	}
	publisher, err := ctx.publisher()
	if err != nil {
		return nil, err
	}

	cfg := ctx.config
	if len(typeNames) == 0 {
		typeNames = cfg.Admission.Types
	}
	types, err := admission.ParseTypes(typeNames)
	if err != nil {
		return nil, err
	}

	directory := admission.NewDirectory(st.DB(), cfg.Admission.FreeTierLimit)
	return admission.NewScheduler(admission.Config{
		Store:        st,
		Subjects:     directory,
		Quota:        directory,
		Publisher:    publisher,
		Types:        types,
		EpisodeBatch: cfg.Admission.EpisodeBatch,
		Logger:       ctx.logger,
	}), nil
}
