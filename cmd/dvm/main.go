package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/deepnoodle-ai/dvm/vm"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// app carries the state shared by the commands of one invocation.
type app struct {
	v   *viper.Viper
	log zerolog.Logger
}

// Runtime settings that may come from flags, DVM_* environment variables or
// a config file.
var runtimeKeys = []struct {
	key, flag, usage string
}{
	{"dispatch", "dispatch", "dispatch strategy: table or switch"},
	{"stack_size", "stack-size", "thread stack size in 32-bit words"},
	{"stack_reserve", "stack-reserve", "words kept back for stack overflow handling"},
	{"shadow_tags", "shadow-tags", "check register types at run time"},
	{"heap_limit", "heap-limit", "program heap limit in bytes (0 for none)"},
	{"check_interval", "check-interval", "instructions between checkpoints when instrumented"},
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), log: zerolog.Nop()}
	defaults := vm.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "dvm",
		Short:         "Run and inspect register bytecode images",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file (default $HOME/.dvm.yaml)")
	flags.Bool("no-color", false, "disable colored output")
	flags.String("log-level", "warn", "log level: debug, info, warn or error")
	flags.String("dispatch", defaults.Dispatch, runtimeKeys[0].usage)
	flags.Int("stack-size", defaults.StackSize, runtimeKeys[1].usage)
	flags.Int("stack-reserve", defaults.StackReserve, runtimeKeys[2].usage)
	flags.Bool("shadow-tags", defaults.ShadowTags, runtimeKeys[3].usage)
	flags.Int64("heap-limit", defaults.HeapLimit, runtimeKeys[4].usage)
	flags.Int("check-interval", defaults.CheckInterval, runtimeKeys[5].usage)

	for _, k := range runtimeKeys {
		a.v.BindPFlag(k.key, flags.Lookup(k.flag))
	}
	a.v.BindPFlag("no_color", flags.Lookup("no-color"))
	a.v.BindPFlag("log_level", flags.Lookup("log-level"))
	a.v.SetEnvPrefix("dvm")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	cmd.AddCommand(a.runCmd(), a.disCmd(), a.versionCmd())
	return cmd
}

// init reads the config file and applies the global flags.
func (a *app) init(cmd *cobra.Command) error {
	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			a.v.AddConfigPath(home)
		}
		a.v.SetConfigName(".dvm")
	}
	if err := a.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	if a.v.GetBool("no_color") {
		color.NoColor = true
	}
	level, err := zerolog.ParseLevel(a.v.GetString("log_level"))
	if err != nil {
		return err
	}
	a.log = newLogger(cmd.ErrOrStderr(), level)
	return nil
}

// config returns the runtime configuration after flags, environment and
// config file are merged.
func (a *app) config() (vm.Config, error) {
	cfg := vm.DefaultConfig()
	if err := a.v.Unmarshal(&cfg); err != nil {
		return vm.Config{}, err
	}
	return cfg, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fatal(err)
	}
}
