package main

import (
	"fmt"

	"dsphmm/core/eval"

	"github.com/spf13/cobra"
)

func accCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "acc <result> <answer>",
		Short: "compare a classification result with the answer labels",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := eval.AccuracyFiles(args[0], args[1])
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), report)
			return err
		},
	}
}
