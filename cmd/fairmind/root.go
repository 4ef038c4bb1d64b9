package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const envPrefix = "FAIRMIND"

// exitError carries a process exit code other than 1, used when an
// analysis succeeds but reaches the --fail-on risk level.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// app is the state shared by every subcommand.
type app struct {
	v       *viper.Viper
	cfgFile string
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), logger: zap.NewNop()}

	root := &cobra.Command{
		Use:   "fairmind",
		Short: "Fairness metrics and bias detection for classifier outputs",
		Long: `fairmind measures group fairness of thresholded predictions across
protected attributes and their intersections, and assigns a risk level.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./fairmind.yaml or $HOME/.fairmind.yaml)")
	root.PersistentFlags().Bool("verbose", false, "log analysis progress to stderr")
	root.PersistentFlags().String("store-backend", "memory", "result store backend: memory, redis or postgres")
	root.PersistentFlags().String("store-dsn", "", "result store DSN (snapshot path, redis URL or postgres connection string)")
	mustBind(a.v, "verbose", root.PersistentFlags().Lookup("verbose"))
	mustBind(a.v, "store.backend", root.PersistentFlags().Lookup("store-backend"))
	mustBind(a.v, "store.dsn", root.PersistentFlags().Lookup("store-dsn"))

	root.AddCommand(
		newAnalyzeCmd(a),
		newMetricsCmd(),
		newStoreCmd(a),
		newJournalCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	v := a.v
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if a.cfgFile != "" {
		v.SetConfigFile(a.cfgFile)
	} else {
		v.SetConfigName("fairmind")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	err := v.ReadInConfig()
	notFound := viper.ConfigFileNotFoundError{}
	switch {
	case err != nil && !errors.As(err, &notFound):
		return fmt.Errorf("failed to read config: %w", err)
	case err == nil:
		fmt.Fprintln(cmd.ErrOrStderr(), "Using config file:", v.ConfigFileUsed())
	}

	if v.GetBool("verbose") {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		a.logger = logger
	}
	return nil
}

func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}
