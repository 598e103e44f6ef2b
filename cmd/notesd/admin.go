package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-notes-backend/internal/generation"
	"github.com/tbourn/go-notes-backend/internal/services"
	"github.com/tbourn/go-notes-backend/internal/sysutil"
)

func newSeedCmd() *cobra.Command {
	var uid string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the demo conversations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.close()

			gen, err := generation.New(cmd.Context(), rt.cfg.Generation)
			if err != nil {
				return fmt.Errorf("generation: %w", err)
			}
			app := services.NewApp(rt.db, gen, rt.cfg)

			ctx := rt.log.WithContext(cmd.Context())
			res, err := app.Seeder.Seed(ctx, uid)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			app.Generation.Wait()

			rt.log.Info().Str("uid", res.User.UID).Int("turns", len(res.Turns)).Msg("seeded")
			for _, t := range res.Turns {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", t.ID, t.HumanText)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&uid, "uid", "", "external uid owning the demo data (default "+services.SeedUID+")")
	return cmd
}

func newResetCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every turn, feedback and idempotency record (users are kept)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !force && !sysutil.IsTruthy(os.Getenv("NOTES_RESET_CONFIRM")) {
				return errors.New("refusing to reset without --force or NOTES_RESET_CONFIRM=1")
			}
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.close()

			seeder := services.Seeder{Users: &services.UserService{DB: rt.db}}
			if err := seeder.Reset(cmd.Context()); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			rt.log.Warn().Msg("conversation data reset")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm the reset")
	return cmd
}
