package main

import (
	"os/signal"
	"syscall"

	"dsphmm/node"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func serve(cmd *cobra.Command) error {
	if modelsFlag == "" {
		return errors.New("--models is required")
	}
	lc, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if methodFlag != "" {
		lc.Classify.Method = methodFlag
	}

	nodeInstance := node.HMMNode{}
	if err = nodeInstance.Init(lc, modelsFlag); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return nodeInstance.Start(ctx)
}

func serveCMD() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "serve a set of models",
		Long:  "serve the listed models over gRPC, with metrics and health over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd)
		},
	}
	flagList := []string{
		"config",
		"models",
		"method",
		"alphabet",
	}
	attachFlags(serveCmd, flagList)
	return serveCmd
}
