package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"runthru/internal/config"
	"runthru/internal/id"
	"runthru/internal/logging"
)

// cli carries the flag layer shared by every subcommand. Flags are bound
// through viper so RUNTHRU_* variables can set them too.
type cli struct {
	v *viper.Viper
}

func newRootCommand() *cobra.Command {
	c := &cli{v: viper.New()}
	c.v.SetEnvPrefix("RUNTHRU")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "runthru",
		Short: "Turn plain-language walkthroughs into narrated demo videos",
		Long: `runthru drives a real browser through a list of plain-language
instructions, records the session, and composes a narrated video.

  runthru serve                                  # HTTP API on :8080
  runthru run https://example.com "click Login"  # one-shot recording
  runthru interpret "scroll down 300 pixels"     # show how a step is read`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default ~/.runthru/config.yaml)")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.String("log-file", "", "also write logs to this file")
	flags.String("store", "", "store driver: memory, file, postgres or sqlite")
	flags.String("store-dsn", "", "DSN for the postgres or sqlite store")
	flags.String("artifacts", "", "directory for per-recording artifacts")
	_ = c.v.BindPFlags(flags)

	root.AddCommand(
		newServeCommand(c),
		newRunCommand(c),
		newInterpretCommand(c),
		newVersionCommand(),
	)
	return root
}

// loadConfig merges defaults, the config file, RUNTHRU_* variables and
// finally any flag or flag-variable the user set.
func (c *cli) loadConfig() (config.Config, error) {
	cfg, err := config.Load(
		config.WithConfigPath(c.v.GetString("config")),
		config.WithOverrides(func(cfg *config.Config) {
			if s := c.v.GetString("log-level"); s != "" {
				cfg.Logging.Level = s
			}
			if s := c.v.GetString("log-file"); s != "" {
				cfg.Logging.File = s
			}
			if s := c.v.GetString("store"); s != "" {
				cfg.Store.Driver = s
			}
			if s := c.v.GetString("store-dsn"); s != "" {
				cfg.Store.DSN = s
			}
			if s := c.v.GetString("artifacts"); s != "" {
				cfg.Artifacts.Root = s
			}
		}),
	)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := logging.Configure(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.File); err != nil {
		return config.Config{}, fmt.Errorf("configure logging: %w", err)
	}
	strategy, err := id.ParseStrategy(cfg.IDStrategy)
	if err != nil {
		return config.Config{}, err
	}
	id.SetStrategy(strategy)
	return cfg, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "runthru %s (%s)\n", version, commit)
		},
	}
}
