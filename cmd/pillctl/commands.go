package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pillpal/internal/config"
	"pillpal/internal/database"
	"pillpal/internal/models"
	"pillpal/internal/services"
	"pillpal/pkg/auth"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [file]",
		Short: "Validate a medications file",
		Long:  `Parse the medications file (default: MEDICATIONS_FILE) and list its medications and caretakers.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Load().MedicationsFile
			if len(args) == 1 {
				path = args[0]
			}
			return runCheck(cmd, path)
		},
	}
}

func runCheck(cmd *cobra.Command, path string) error {
	store := services.NewMedicationStore(path)
	if _, err := store.Reload(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	entries := store.All()
	fmt.Fprintf(out, "💊 %d medications in %s\n\n", len(entries), path)
	for _, e := range entries {
		status := "🟢 active"
		if !e.Active {
			status = "🔴 inactive"
		}
		times := make([]string, len(e.Times))
		for i, t := range e.Times {
			times[i] = t.String()
		}
		fmt.Fprintf(out, "  %s  %s %s  [%s]  %s\n", e.MedicationID, e.Name, e.Dosage, strings.Join(times, ", "), status)
	}

	caretakers, _ := store.Caretakers(cmd.Context())
	fmt.Fprintf(out, "\n👥 %d caretakers\n", len(caretakers))
	for _, c := range caretakers {
		var subs []string
		for _, cat := range []models.EventCategory{models.EventMissed, models.EventTaken, models.EventSkipped} {
			if c.Wants(cat) {
				subs = append(subs, string(cat))
			}
		}
		fmt.Fprintf(out, "  %s  %s  notify: %s\n", c.ID, c.Name, strings.Join(subs, ","))
	}
	return nil
}

func newTokenCmd() *cobra.Command {
	var role string
	var expiry time.Duration

	cmd := &cobra.Command{
		Use:   "token <device-id>",
		Short: "Issue a device token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jwtAuth, err := auth.NewLocalJWTAuth(config.Load().JWTSecret, expiry)
			if err != nil {
				return fmt.Errorf("JWT_SECRET: %w", err)
			}
			token, err := jwtAuth.IssueToken(args[0], role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", "patient", "Device role: patient or caretaker")
	cmd.Flags().DurationVar(&expiry, "expiry", 0, "Token lifetime (default 90 days)")
	return cmd
}

func newReportCmd() *cobra.Command {
	var from, to, xlsxPath string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print or export adherence",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			loc, err := cfg.Location()
			if err != nil {
				return err
			}

			today := time.Now().In(loc)
			if to == "" {
				to = today.Format(models.DateLayout)
			}
			if from == "" {
				from = today.AddDate(0, 0, -6).Format(models.DateLayout)
			}

			source, closeSource, err := openResolutionSource(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeSource()

			adherence := services.NewAdherenceService(source, loc)

			if xlsxPath != "" {
				data, err := adherence.ExportXLSX(cmd.Context(), from, to)
				if err != nil {
					return err
				}
				if err := os.WriteFile(xlsxPath, data, 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", xlsxPath, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✅ Wrote %s\n", xlsxPath)
				return nil
			}

			report, err := adherence.Report(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			printReport(cmd, report)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "First day, YYYY-MM-DD (default: 6 days ago)")
	cmd.Flags().StringVar(&to, "to", "", "Last day, YYYY-MM-DD (default: today)")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Write a spreadsheet to this path instead of printing")
	return cmd
}

func openResolutionSource(ctx context.Context, cfg *config.Config) (services.ResolutionSource, func(), error) {
	if cfg.MongoDBURI != "" {
		mongoDB, err := database.NewMongoDB(cfg.MongoDBURI)
		if err != nil {
			return nil, nil, err
		}
		return services.NewMongoDoseLog(mongoDB), func() { mongoDB.Close(context.Background()) }, nil
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Initialize(); err != nil {
		db.Close()
		return nil, nil, err
	}
	return services.NewDoseLogService(db), func() { db.Close() }, nil
}

func printReport(cmd *cobra.Command, report *models.AdherenceReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "📊 Adherence %s to %s\n\n", report.From, report.To)
	for _, day := range report.Days {
		if day.Total == 0 {
			fmt.Fprintf(out, "  %s  no doses\n", day.Date)
			continue
		}
		fmt.Fprintf(out, "  %s  %d/%d taken (%.0f%%, %s)  missed %d  skipped %d\n",
			day.Date, day.Taken(), day.Total, day.Rate*100, day.Band, day.Missed, day.Skipped)
	}
	fmt.Fprintf(out, "\nTotal: %d/%d taken (%.0f%%)\n", report.Taken, report.Total, report.OverallRate*100)
}
