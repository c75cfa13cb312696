package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mvdemo/rapidus/envconfig"
	"github.com/mvdemo/rapidus/logutil"
)

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rapidus",
		Short: "Convert Darknet networks to Caffe",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
			return setupLogging(cmd)
		},
	}

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Show debug output")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn or error")

	cobra.EnableCommandSorting = false

	rootCmd.AddCommand(
		NewConvertCmd(),
		NewPrototxtCmd(),
		NewCaffemodelCmd(),
		NewInspectCmd(),
		NewEnvCmd(),
	)

	return rootCmd
}

func setupLogging(cmd *cobra.Command) error {
	level := envconfig.LogLevel()
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose && level > slog.LevelDebug {
		level = slog.LevelDebug
	}

	if s, _ := cmd.Flags().GetString("log-level"); s != "" {
		var err error
		if level, err = logutil.ParseLevel(s); err != nil {
			return err
		}
	}

	slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), level))
	return nil
}
