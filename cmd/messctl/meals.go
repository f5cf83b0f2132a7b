package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"messgate/internal/attendance"
	"messgate/internal/config"
	"messgate/internal/meal"
	"messgate/internal/store"
)

func classifyCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Show which meal window a time falls in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			classifier, err := config.Load().Classifier()
			if err != nil {
				return err
			}
			t := time.Now()
			if at != "" {
				if t, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("--at: %w", err)
				}
			}
			local := t.In(classifier.Location())
			category, err := classifier.Classify(t)
			if errors.Is(err, meal.ErrOutsideWindow) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: outside meal time\n", local.Format("2006-01-02 15:04 MST"))
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", local.Format("2006-01-02 15:04 MST"), category)
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "RFC3339 time (default now)")
	return cmd
}

func countCmd() *cobra.Command {
	var date, mealType string
	var hostelID int64
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count attendance for one meal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if err := cfg.Validate(); err != nil {
				return err
			}
			classifier, err := cfg.Classifier()
			if err != nil {
				return err
			}
			day, err := time.ParseInLocation("2006-01-02", date, classifier.Location())
			if err != nil {
				return fmt.Errorf("--date: %w", err)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			db, err := store.NewDB(ctx, cfg.DatabaseURL, cfg.StoreTimeout)
			if err != nil {
				return err
			}
			defer db.Close()

			repo := attendance.NewRepository(db.Client)
			svc := attendance.NewService(repo, repo, nil, classifier, attendance.WithStoreTimeout(cfg.StoreTimeout))
			n, err := svc.MealAttendanceCount(ctx, attendance.CountQuery{Day: day, Category: mealType, HostelID: hostelID})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day as YYYY-MM-DD")
	cmd.Flags().StringVar(&mealType, "meal", "", "Breakfast, Lunch, Snack or Dinner")
	cmd.Flags().Int64Var(&hostelID, "hostel", 0, "hostel id (0 for all hostels)")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("meal")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := store.RunMigrations(config.Load().DatabaseURL); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Revert the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := store.RollbackOne(config.Load().DatabaseURL); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "rolled back one migration")
			return nil
		},
	})
	return cmd
}
