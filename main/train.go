package main

import (
	"strconv"

	"dsphmm/common"
	"dsphmm/core/metrics"
	"dsphmm/core/ml"
	"dsphmm/core/msgbus"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func train(cmd *cobra.Command, args []string) error {
	lc, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// without the leading count, train.iterations from the config is used
	iterations := lc.Train.Iterations
	if len(args) == 4 {
		iterations, err = strconv.Atoi(args[0])
		if err != nil || iterations < 0 {
			return errors.Errorf("iterations must be a non-negative integer, got %q", args[0])
		}
		args = args[1:]
	}
	initPath, seqPath, outPath := args[0], args[1], args[2]
	log := common.GetLogger(common.MODULE_TRAIN)
	alphabet := lc.ObservationAlphabet()

	model, err := ml.LoadModel(initPath)
	if err != nil {
		return err
	}
	if model.SymbolCount() != alphabet.Size() {
		return errors.Wrapf(ml.ErrDimensionMismatch, "model %s has %d symbols, alphabet %q has %d",
			initPath, model.SymbolCount(), alphabet, alphabet.Size())
	}
	seqs, err := ml.LoadSequences(seqPath, alphabet)
	if err != nil {
		return err
	}

	trainerConfig := ml.TrainerConfig{
		Iterations: iterations,
		Workers:    lc.Train.Workers,
		Tolerance:  lc.Train.Tolerance,
	}
	if cmd.Flags().Changed("workers") {
		trainerConfig.Workers = workersFlag
	}
	if cmd.Flags().Changed("tolerance") {
		trainerConfig.Tolerance = toleranceFlag
	}

	bus := msgbus.NewMessageBus()
	var m *metrics.Metrics
	if metricsFileFlag != "" {
		m = metrics.New(nil)
		m.Subscribe(bus)
	}
	if progressFlag {
		bus.Register(common.LocalTrainMsg, newProgressSubscriber(iterations, cmd.ErrOrStderr()))
	}

	trainer := ml.NewTrainer(trainerConfig, nil, bus)
	trained, report, err := trainer.Fit(cmd.Context(), model, seqs)
	// deliver pending events before reading metrics
	bus.Reset()
	if err != nil {
		return err
	}

	trained.Label = outPath
	if err = ml.DumpModel(outPath, trained); err != nil {
		return err
	}
	log.Infof("run %s: %d iterations on %d sequences, model written to %s",
		report.RunID, report.Iterations, len(seqs), outPath)

	if m != nil {
		return m.WriteToTextfile(metricsFileFlag)
	}
	return nil
}

func trainCMD() *cobra.Command {
	trainCmd := &cobra.Command{
		Use:   "train [iterations] <init_model> <train_seqs> <out_model>",
		Short: "train a model with Baum-Welch",
		Long:  "re-estimate the initial model on the training sequences for a fixed number of iterations (train.iterations when omitted)",
		Args:  cobra.RangeArgs(3, 4),
		RunE:  train,
	}
	flagList := []string{
		"config",
		"workers",
		"tolerance",
		"progress",
		"metrics-file",
		"alphabet",
	}
	attachFlags(trainCmd, flagList)
	return trainCmd
}
