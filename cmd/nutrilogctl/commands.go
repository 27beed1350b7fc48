package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/pageza/nutrilog/backend/internal/database"
	"github.com/pageza/nutrilog/backend/internal/service"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			if err := database.RunMigrations(e.db.Gorm, e.logger); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Daily statistics maintenance",
	}

	var date string
	recompute := &cobra.Command{
		Use:   "recompute <external-id>",
		Short: "Rebuild a user's daily totals from the food log",
		Long: `Rebuild a user's daily totals from the food log.

The date is interpreted in the user's timezone and defaults to today.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			users := service.NewUserService(e.db.Gorm, e.logger)
			daily := service.NewDailyStatsService(e.db.Gorm, e.cfg.DefaultTimezone, e.logger)

			user, err := users.GetByExternalID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			day := date
			if day == "" {
				day = daily.Today(user)
			}
			row, err := daily.Recompute(cmd.Context(), user.ID, day)
			if err != nil {
				return err
			}
			return printJSON(cmd, row)
		},
	}
	recompute.Flags().StringVar(&date, "date", "", "local date as YYYY-MM-DD")

	stats.AddCommand(recompute)
	return stats
}

func trialsCmd() *cobra.Command {
	trials := &cobra.Command{
		Use:   "trials",
		Short: "Trial lifecycle maintenance",
	}
	trials.AddCommand(&cobra.Command{
		Use:   "expire",
		Short: "Move every lapsed trial to expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			// Expiry never calls the payment processor, so no lookup is wired.
			subs := service.NewSubscriptionService(e.db.Gorm, nil, e.cfg.TrialPeriod(), e.logger)
			n, err := subs.ExpireTrials(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d trial(s)\n", n)
			return nil
		},
	})
	return trials
}

func usersCmd() *cobra.Command {
	users := &cobra.Command{
		Use:   "users",
		Short: "User data maintenance",
	}

	var yes bool
	purge := &cobra.Command{
		Use:   "purge <external-id>",
		Short: "Delete a user and everything logged for them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to purge %s without --yes", args[0])
			}
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			report, err := service.NewUserService(e.db.Gorm, e.logger).Purge(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	purge.Flags().BoolVar(&yes, "yes", false, "confirm the deletion")

	users.AddCommand(purge)
	return users
}

func hashPasswordCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for ADMIN_PASSWORD_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
