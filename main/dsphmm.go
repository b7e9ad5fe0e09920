package main

import (
	"fmt"
	"os"

	"dsphmm/common"
	"dsphmm/core/config"
	"dsphmm/core/ml"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var flags *pflag.FlagSet

var (
	cfgPathFlag     string
	workersFlag     int
	toleranceFlag   float64
	progressFlag    bool
	metricsFileFlag string
	methodFlag      string
	alphabetFlag    string
	modelsFlag      string
)

func init() {
	resetFlags()
}

// Explicitly define a method to facilitate tests
func resetFlags() {
	flags = &pflag.FlagSet{}

	flags.StringVarP(&cfgPathFlag, "config", "c", "",
		"config file, default hmm_config.yaml in $HMM_CFG_PATH or the working directory")
	flags.IntVarP(&workersFlag, "workers", "w", 0,
		"sequences processed concurrently, 0 uses the config value")
	flags.Float64Var(&toleranceFlag, "tolerance", 0,
		"stop once the log-likelihood gain of an iteration falls below this, 0 disables")
	flags.BoolVar(&progressFlag, "progress", false,
		"show a progress bar while training")
	flags.StringVar(&metricsFileFlag, "metrics-file", "",
		"write prometheus metrics of the run to this file")
	flags.StringVarP(&methodFlag, "method", "m", "",
		"scoring method: forward or viterbi, empty uses the config value")
	flags.StringVar(&alphabetFlag, "alphabet", "",
		"observation alphabet, empty uses the config value")
	flags.StringVar(&modelsFlag, "models", "",
		"model list file to serve")
}

func attachFlags(cmd *cobra.Command, names []string) {
	cmdFlags := cmd.Flags()
	for _, name := range names {
		if flag := flags.Lookup(name); flag != nil {
			cmdFlags.AddFlag(flag)
		} else {
			panic(fmt.Errorf("Could not find flag '%s' to attach to command '%s'", name, cmd.Name()))
		}
	}
}

// loadConfig reads the configuration, applies the flags that override it and
// installs the log configuration.
func loadConfig(cmd *cobra.Command) (*config.LocalConfig, error) {
	lc, err := config.InitLocalConfig(cmd)
	if err != nil {
		return nil, err
	}
	if alphabetFlag != "" {
		if _, err = ml.NewAlphabet(alphabetFlag); err != nil {
			return nil, errors.WithMessage(err, "--alphabet")
		}
		lc.Alphabet = alphabetFlag
	}
	if err = common.SetLogConfig(lc.LogConfig()); err != nil {
		return nil, errors.WithMessage(err, "set log config")
	}
	return lc, nil
}

func newMainCmd() *cobra.Command {
	mainCmd := &cobra.Command{
		Use:           "dsphmm",
		Short:         "discrete HMM trainer and classifier",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	mainCmd.AddCommand(trainCMD())
	mainCmd.AddCommand(testCMD())
	mainCmd.AddCommand(decodeCMD())
	mainCmd.AddCommand(accCMD())
	mainCmd.AddCommand(serveCMD())
	return mainCmd
}

func main() {
	if newMainCmd().Execute() != nil {
		os.Exit(1)
	}
}
