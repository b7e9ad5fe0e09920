package eval

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Report is the outcome of comparing predicted labels with the answers.
type Report struct {
	Correct int
	Total   int
	// Mismatches holds the 0-based positions of wrong predictions.
	Mismatches []int
}

// Accuracy returns Correct/Total, or 0 for an empty comparison.
func (r *Report) Accuracy() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Correct) / float64(r.Total)
}

func (r *Report) String() string {
	return fmt.Sprintf("correct: %d\ntotal: %d\naccuracy: %f\n", r.Correct, r.Total, r.Accuracy())
}

type labelReader struct {
	scanner *bufio.Scanner
}

// next returns the first field of the next non-blank line.
func (lr *labelReader) next() (string, bool) {
	for lr.scanner.Scan() {
		fields := strings.Fields(lr.scanner.Text())
		if len(fields) > 0 {
			return fields[0], true
		}
	}
	return "", false
}

// Accuracy compares a classification result against the answer labels line by
// line. Only the first field of each result line (the label) is compared; the
// comparison stops when either input runs out.
func Accuracy(result, answer io.Reader) (*Report, error) {
	res := &labelReader{scanner: bufio.NewScanner(result)}
	ans := &labelReader{scanner: bufio.NewScanner(answer)}

	report := &Report{}
	for {
		pred, ok := res.next()
		if !ok {
			break
		}
		want, ok := ans.next()
		if !ok {
			break
		}
		if pred == want {
			report.Correct++
		} else {
			report.Mismatches = append(report.Mismatches, report.Total)
		}
		report.Total++
	}
	if err := res.scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read result")
	}
	if err := ans.scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read answer")
	}
	return report, nil
}

// AccuracyFiles runs Accuracy on the files at resultPath and answerPath.
func AccuracyFiles(resultPath, answerPath string) (*Report, error) {
	result, err := os.Open(resultPath)
	if err != nil {
		return nil, errors.Wrapf(err, "open result file %s", resultPath)
	}
	defer result.Close()
	answer, err := os.Open(answerPath)
	if err != nil {
		return nil, errors.Wrapf(err, "open answer file %s", answerPath)
	}
	defer answer.Close()
	return Accuracy(result, answer)
}
