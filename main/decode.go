package main

import (
	"bufio"
	"os"
	"strconv"

	"dsphmm/common"
	"dsphmm/core/ml"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func decode(cmd *cobra.Command, args []string) error {
	modelPath, seqPath, outPath := args[0], args[1], args[2]

	lc, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := common.GetLogger(common.MODULE_CLASSIFY)

	model, err := ml.LoadModel(modelPath)
	if err != nil {
		return err
	}
	alphabet := lc.ObservationAlphabet()
	if model.SymbolCount() != alphabet.Size() {
		return errors.Wrapf(ml.ErrDimensionMismatch, "model %s has %d symbols, alphabet %q has %d",
			modelPath, model.SymbolCount(), alphabet, alphabet.Size())
	}
	seqs, err := ml.LoadSequences(seqPath, alphabet)
	if err != nil {
		return err
	}

	if err = writePaths(outPath, model, seqs); err != nil {
		return err
	}
	log.Infof("decoded %d sequences with %s", len(seqs), model.Label)
	return nil
}

// writePaths writes the Viterbi states of every sequence followed by the path
// log probability, one sequence per line.
func writePaths(outPath string, model *ml.Model, seqs []ml.Sequence) error {
	f, err := os.Create(outPath)
	if err != nil {
		return errors.Wrapf(err, "create output file %s", outPath)
	}
	w := bufio.NewWriter(f)
	for n, seq := range seqs {
		path, err := ml.Viterbi(model, seq)
		if err != nil {
			f.Close()
			return errors.WithMessagef(err, "sequence %d", n)
		}
		for _, s := range path.States {
			w.WriteString(strconv.Itoa(s))
			w.WriteByte(' ')
		}
		w.WriteString(strconv.FormatFloat(path.LogProb, 'g', -1, 64))
		w.WriteByte('\n')
	}
	if err = w.Flush(); err != nil {
		f.Close()
		return errors.Wrapf(err, "write output file %s", outPath)
	}
	return errors.Wrapf(f.Close(), "close output file %s", outPath)
}

func decodeCMD() *cobra.Command {
	decodeCmd := &cobra.Command{
		Use:   "decode <model> <seqs> <out>",
		Short: "write the most probable state path of every sequence",
		Args:  cobra.ExactArgs(3),
		RunE:  decode,
	}
	flagList := []string{
		"config",
		"alphabet",
	}
	attachFlags(decodeCmd, flagList)
	return decodeCmd
}
