package main

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"dsphmm/common"
	"dsphmm/core/metrics"
	"dsphmm/core/ml"
	"dsphmm/core/msgbus"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func test(cmd *cobra.Command, args []string) error {
	listPath, seqPath, resultPath := args[0], args[1], args[2]

	lc, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := common.GetLogger(common.MODULE_CLASSIFY)

	method, err := ml.ParseScoreMethod(lc.Classify.Method)
	if err != nil {
		return err
	}
	if methodFlag != "" {
		if method, err = ml.ParseScoreMethod(methodFlag); err != nil {
			return err
		}
	}
	workers := lc.Classify.Workers
	if cmd.Flags().Changed("workers") {
		workers = workersFlag
	}

	models, err := ml.LoadModelList(listPath)
	if err != nil {
		return err
	}
	alphabet := lc.ObservationAlphabet()
	for _, m := range models {
		if m.SymbolCount() != alphabet.Size() {
			return errors.Wrapf(ml.ErrDimensionMismatch, "model %s has %d symbols, alphabet %q has %d",
				m.Label, m.SymbolCount(), alphabet, alphabet.Size())
		}
	}
	classifier, err := ml.NewClassifier(models, ml.WithMethod(method), ml.WithWorkers(workers))
	if err != nil {
		return err
	}
	seqs, err := ml.LoadSequences(seqPath, alphabet)
	if err != nil {
		return err
	}

	start := time.Now()
	results, err := classifier.ClassifyAll(cmd.Context(), seqs)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	if err = writeResults(resultPath, results); err != nil {
		return err
	}
	log.Infof("classified %d sequences against %d models (%s) in %s", len(seqs), len(models), method, elapsed)

	if metricsFileFlag == "" {
		return nil
	}
	bus := msgbus.NewMessageBus()
	m := metrics.New(nil)
	m.Subscribe(bus)
	runID := uuid.NewString()
	perSeq := elapsed / time.Duration(max(len(results), 1))
	for _, r := range results {
		bus.Publish(runID, common.LocalClassifyMsg_Result, &ml.ClassifyEvent{Method: method, Result: r, Elapsed: perSeq})
	}
	bus.Reset()
	return m.WriteToTextfile(metricsFileFlag)
}

// writeResults writes one "label score" line per sequence, in input order.
func writeResults(path string, results []*ml.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create result file %s", path)
	}
	w := bufio.NewWriter(f)
	for _, r := range results {
		fmt.Fprintf(w, "%s %e\n", r.Label, r.Prob())
	}
	if err = w.Flush(); err != nil {
		f.Close()
		return errors.Wrapf(err, "write result file %s", path)
	}
	return errors.Wrapf(f.Close(), "close result file %s", path)
}

func testCMD() *cobra.Command {
	testCmd := &cobra.Command{
		Use:   "test <model_list> <test_seqs> <result>",
		Short: "classify sequences with a set of models",
		Long:  "score every test sequence against every listed model and write the best label per line",
		Args:  cobra.ExactArgs(3),
		RunE:  test,
	}
	flagList := []string{
		"config",
		"method",
		"workers",
		"metrics-file",
		"alphabet",
	}
	attachFlags(testCmd, flagList)
	return testCmd
}
