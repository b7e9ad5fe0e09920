package main

import (
	"fmt"
	"io"

	"dsphmm/core/ml"
	"dsphmm/core/msgbus"

	"github.com/schollz/progressbar/v3"
)

// progressSubscriber advances a progress bar on every training iteration.
type progressSubscriber struct {
	bar *progressbar.ProgressBar
}

func newProgressSubscriber(iterations int, w io.Writer) *progressSubscriber {
	bar := progressbar.NewOptions(iterations,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("training"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	return &progressSubscriber{bar: bar}
}

func (p *progressSubscriber) HandleMsgFromMsgBus(msg *msgbus.BusMessage) error {
	switch r := msg.Msg.(type) {
	case *ml.IterationReport:
		p.bar.Describe(fmt.Sprintf("log-likelihood %.4f", r.LogLikelihood))
		return p.bar.Add(1)
	case *ml.FitReport:
		return p.bar.Finish()
	}
	return nil
}
