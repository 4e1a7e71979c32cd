package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/medflow/medtrack/internal/auth/jwt"
	"github.com/medflow/medtrack/internal/pharmacy/domain"
	"github.com/medflow/medtrack/pkg/actor"
	"github.com/spf13/cobra"
)

func newStatusCmd(a *agent) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, queue length and last sync",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			online := a.remote.Ping(ctx) == nil
			st, err := a.reconciler.Status(ctx)
			if err != nil {
				return err
			}

			last := "never"
			if !st.LastSync.IsZero() {
				last = st.LastSync.Local().Format(time.RFC3339)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "remote:       %s\n", a.cfg.Sync.RemoteURL)
			fmt.Fprintf(out, "online:       %t\n", online)
			fmt.Fprintf(out, "pending:      %d\n", st.Pending)
			fmt.Fprintf(out, "medications:  %d cached\n", st.CachedMedications)
			fmt.Fprintf(out, "last sync:    %s\n", last)
			return nil
		},
	}
}

func newQueueCmd(a *agent) *cobra.Command {
	var (
		req domain.DispenseRequest
		lot string
	)
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Record a dispense while offline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			intent, err := a.reconciler.QueueOfflineLotDispense(cmd.Context(), req, lot)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s (%d pending)\n", intent.ID, a.reconciler.PendingCount(cmd.Context()))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.MedicationID, "medication", "", "medication id")
	f.IntVar(&req.Quantity, "quantity", 0, "units dispensed")
	f.StringVar(&req.PatientID, "patient", "", "patient identifier")
	f.StringVar(&req.Dose, "dose", "", "dose instructions")
	f.StringVar(&req.Indication, "indication", "", "indication")
	f.StringVar(&req.PhysicianName, "physician", "", "prescribing physician")
	f.StringVar(&req.StudentName, "student", "", "student name")
	f.StringVar(&req.DispensedBy, "dispensed-by", "", "dispensing staff")
	f.StringVar(&req.ClinicSite, "site", "", "clinic site")
	f.StringVar(&req.Notes, "notes", "", "notes")
	f.StringVar(&lot, "lot", "", "lot number the units were taken from")
	_ = cmd.MarkFlagRequired("medication")
	_ = cmd.MarkFlagRequired("quantity")
	_ = cmd.MarkFlagRequired("patient")
	return cmd
}

func newFlushCmd(a *agent) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Send queued dispenses to the pharmacy service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if dryRun {
				intents, err := a.local.PendingIntents(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "SEQ\tINTENT\tMEDICATION\tQTY\tLOT\tSTATUS\tATTEMPTS\tLAST ERROR")
				for _, in := range intents {
					fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\t%d\t%s\n",
						in.Seq, in.ID, in.Request.MedicationID, in.Request.Quantity,
						in.PreferredLot, in.Status, in.Attempts, in.LastError)
				}
				return w.Flush()
			}

			res, err := a.reconciler.FlushQueue(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "processed %d, failed %d, cancelled %d, remaining %d\n",
				res.Processed, res.Failed, res.Cancelled, res.Remaining)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list what would be sent without sending")
	return cmd
}

func newWatchCmd(a *agent) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Ping the service and flush whenever it comes back",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.reconciler.OnPendingChange(func(n int) {
				a.log.Info().Int("pending", n).Msg("queue changed")
			})
			a.log.Info().Dur("interval", a.cfg.Sync.Interval).Msg("watching")
			if err := a.reconciler.Watch(cmd.Context(), a.cfg.Sync.Interval); err != nil && cmd.Context().Err() == nil {
				return err
			}
			return nil
		},
	}
}

func newRefreshCmd(a *agent) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Reload the medication cache from the service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.reconciler.RefreshCache(cmd.Context()); err != nil {
				return err
			}
			meds, err := a.local.CachedMedications(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTRENGTH\tSTOCK")
			for _, m := range meds {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", m.ID, m.Name, m.Strength, m.CurrentStock)
			}
			return w.Flush()
		},
	}
}

func newTokenCmd(a *agent) *cobra.Command {
	var device actor.Actor
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a device token signed with the configured JWT secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if device.ID == "" {
				device.ID = uuid.New().String()
			}
			token, expires, err := jwt.NewManager(&a.cfg.JWT).GenerateAccessToken(&device)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			a.log.Info().Str("device_id", device.ID).Time("expires_at", expires).Msg("token issued")
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&device.ID, "id", "", "device id (generated when empty)")
	f.StringVar(&device.Name, "name", "", "name recorded on dispensing rows")
	f.StringVar(&device.Role, "role", actor.RoleProvider, "role")
	f.StringVar(&device.Site, "site", "", "clinic site")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
