package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"nollettan-menu/db"
	"nollettan-menu/services"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded SQL migrations to Postgres",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if err := db.Init(ctx, cfg.DB); err != nil {
			return fmt.Errorf("db: %w", err)
		}
		defer db.Close()
		if err := applyMigrations(ctx, db.Pool, log, true); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		return nil
	},
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create the menu from the built-in defaults if the store has none",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		b, err := openBackends(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer b.Close()

		engine := newEngine(cfg, b, nil, services.LogNotifier{Log: log}, log)
		id, created, err := engine.EnsureRoot(ctx)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintln(cmd.OutOrStdout(), "Menu created:", id)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "Menu already exists:", id)
		}
		return nil
	},
}

var grantAdminCmd = &cobra.Command{
	Use:   "grant-admin <email> [password]",
	Short: "Create or update a user and grant it the admin role",
	Long: `Grant-admin creates the user if needed, sets its password and grants the
admin role. Without a password argument a random one is generated and printed
once.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		b, err := openBackends(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer b.Close()

		password, generated := "", false
		if len(args) == 2 {
			password = args[1]
		} else {
			password, err = services.GenerateAdminPassword()
			if err != nil {
				return err
			}
			generated = true
		}

		id, err := b.accounts.CreateAdmin(ctx, args[0], password)
		if err != nil {
			return fmt.Errorf("grant admin: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Admin granted:", id)
		if generated {
			fmt.Fprintln(cmd.OutOrStdout(), "Password:", password)
		}
		return nil
	},
}

var todayAt string

var todayCmd = &cobra.Command{
	Use:   "today",
	Short: "Print the lunch day shown right now and its meals",
	Long: `Today prints which weekday's lunch the website highlights at the given
time (default now, in MENU_TIMEZONE) and the meals stored for it.

Examples:
  nollettan today
  nollettan today --at 2025-10-17T17:30:00+02:00`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		now := time.Now()
		if todayAt != "" {
			now, err = time.Parse(time.RFC3339, todayAt)
			if err != nil {
				return fmt.Errorf("--at: %w", err)
			}
		}
		now = now.In(cfg.Location)

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		b, err := openBackends(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer b.Close()

		engine := newEngine(cfg, b, nil, services.LogNotifier{Log: log}, log)
		if err := engine.Load(ctx); err != nil {
			log.Warn().Err(err).Msg("showing built-in menu")
		}
		m := engine.Snapshot()
		day, _ := services.TodaysMenu(m, now)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s (vecka %d)\n", day.Day, m.Week)
		for _, meal := range day.Meals {
			fmt.Fprintf(out, "  %-5s %s\n", meal.Type, meal.Name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd, bootstrapCmd, grantAdminCmd, todayCmd)
	todayCmd.Flags().StringVar(&todayAt, "at", "", "RFC3339 time to evaluate instead of now")
}
