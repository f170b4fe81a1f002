package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"image-prompt-creator/internal/app"
	"image-prompt-creator/internal/config"
)

// cli carries the wired application between the root hooks and subcommands.
type cli struct {
	v       *viper.Viper
	app     *app.App
	verbose bool
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:           "promptctl",
		Short:         "Build image and video prompts from the prompt database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.open(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.app == nil {
				return nil
			}
			return c.app.Close()
		},
	}

	root.PersistentFlags().String("settings", "", "settings YAML file (default $SETTINGS_FILE or "+config.DefaultSettingsFile+")")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log at debug level to stderr")
	_ = c.v.BindPFlag("settings", root.PersistentFlags().Lookup("settings"))
	_ = c.v.BindEnv("settings", "SETTINGS_FILE")

	root.AddCommand(
		newInitCmd(c),
		newGenerateCmd(c),
		newImportCmd(c),
		newExportCmd(c),
		newStoryboardCmd(c),
		newPresetsCmd(c),
	)
	return root
}

func (c *cli) open(cmd *cobra.Command) error {
	_ = godotenv.Load()

	if settings := c.v.GetString("settings"); settings != "" {
		if err := os.Setenv("SETTINGS_FILE", settings); err != nil {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	a, err := app.New(cmd.Context(), cfg, c.logger(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	c.app = a
	for _, note := range cfg.Notes {
		fmt.Fprintln(cmd.ErrOrStderr(), "note:", note)
	}
	return nil
}

// logger keeps stdout for command output.
func (c *cli) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
