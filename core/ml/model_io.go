package ml

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	sectionInitial     = "initial:"
	sectionTransition  = "transition:"
	sectionObservation = "observation:"
)

type modelReader struct {
	scanner *bufio.Scanner
	label   string
}

func (mr *modelReader) next(what string) (string, error) {
	if !mr.scanner.Scan() {
		if err := mr.scanner.Err(); err != nil {
			return "", errors.Wrapf(err, "model %s", mr.label)
		}
		return "", errors.Wrapf(ErrInvalidModel, "model %s truncated while reading %s", mr.label, what)
	}
	return mr.scanner.Text(), nil
}

func (mr *modelReader) count(section string) (int, error) {
	tok, err := mr.next(section + " count")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n <= 0 {
		return 0, errors.Wrapf(ErrInvalidModel, "model %s: bad %s count %q", mr.label, section, tok)
	}
	return n, nil
}

func (mr *modelReader) row(section string, n int) ([]float64, error) {
	row := make([]float64, n)
	for i := range row {
		tok, err := mr.next(section + " values")
		if err != nil {
			return nil, err
		}
		row[i], err = strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidModel, "model %s: bad %s value %q", mr.label, section, tok)
		}
	}
	return row, nil
}

// ReadModel parses a model in the text layout written by WriteModel. The
// observation section needs the state count, so it must follow initial or transition.
func ReadModel(r io.Reader, label string) (*Model, error) {
	scanner := bufio.NewScanner(r)
	scanner.Split(bufio.ScanWords)
	mr := &modelReader{scanner: scanner, label: label}

	m := &Model{Label: label}
	states := 0
	seen := make(map[string]bool)
	setStates := func(section string, n int) error {
		if states != 0 && states != n {
			return errors.Wrapf(ErrDimensionMismatch, "model %s: %s has %d states, expected %d", label, section, n, states)
		}
		states = n
		return nil
	}

	for scanner.Scan() {
		section := scanner.Text()
		if seen[section] {
			return nil, errors.Wrapf(ErrInvalidModel, "model %s: duplicated section %s", label, section)
		}
		seen[section] = true

		switch section {
		case sectionInitial:
			n, err := mr.count(section)
			if err != nil {
				return nil, err
			}
			if err = setStates(section, n); err != nil {
				return nil, err
			}
			if m.Initial, err = mr.row(section, n); err != nil {
				return nil, err
			}
		case sectionTransition:
			n, err := mr.count(section)
			if err != nil {
				return nil, err
			}
			if err = setStates(section, n); err != nil {
				return nil, err
			}
			m.Transition = make([][]float64, n)
			for i := range m.Transition {
				if m.Transition[i], err = mr.row(section, n); err != nil {
					return nil, err
				}
			}
		case sectionObservation:
			if states == 0 {
				return nil, errors.Wrapf(ErrInvalidModel, "model %s: %s before the state count is known", label, section)
			}
			k, err := mr.count(section)
			if err != nil {
				return nil, err
			}
			m.Emission = make([][]float64, k)
			for i := range m.Emission {
				if m.Emission[i], err = mr.row(section, states); err != nil {
					return nil, err
				}
			}
		default:
			return nil, errors.Wrapf(ErrInvalidModel, "model %s: unexpected token %q", label, section)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "model %s", label)
	}
	for _, section := range []string{sectionInitial, sectionTransition, sectionObservation} {
		if !seen[section] {
			return nil, errors.Wrapf(ErrInvalidModel, "model %s: missing section %s", label, section)
		}
	}
	return m, nil
}

// WriteModel writes m in the text layout read by ReadModel. Values use the
// shortest representation that parses back to the same float64.
func WriteModel(w io.Writer, m *Model) error {
	if err := m.checkShape(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s %d\n", sectionInitial, m.StateCount())
	writeRow(bw, m.Initial)
	fmt.Fprintf(bw, "\n%s %d\n", sectionTransition, m.StateCount())
	for _, row := range m.Transition {
		writeRow(bw, row)
	}
	fmt.Fprintf(bw, "\n%s %d\n", sectionObservation, m.SymbolCount())
	for _, row := range m.Emission {
		writeRow(bw, row)
	}
	return bw.Flush()
}

func writeRow(w *bufio.Writer, row []float64) {
	for i, v := range row {
		if i > 0 {
			w.WriteByte(' ')
		}
		w.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	w.WriteByte('\n')
}

// String renders the model in the text layout.
func (m *Model) String() string {
	var buf bytes.Buffer
	if err := WriteModel(&buf, m); err != nil {
		return fmt.Sprintf("<%s: %s>", m.Label, err)
	}
	return buf.String()
}

type modelDoc struct {
	Label      string      `yaml:"label,omitempty"`
	Initial    []float64   `yaml:"initial"`
	Transition [][]float64 `yaml:"transition"`
	Emission   [][]float64 `yaml:"emission"`
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadModel reads the model at path. Files ending in .yaml or .yml are decoded as
// YAML, anything else as text. The label is the path unless the YAML names one.
// Every distribution must be valid within LoadTolerance.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open model file %s", path)
	}

	var m *Model
	if isYAML(path) {
		var doc modelDoc
		if err = yaml.Unmarshal(data, &doc); err != nil {
			return nil, errors.Wrapf(ErrInvalidModel, "model %s: %s", path, err)
		}
		m = &Model{Label: doc.Label, Initial: doc.Initial, Transition: doc.Transition, Emission: doc.Emission}
		if m.Label == "" {
			m.Label = path
		}
	} else if m, err = ReadModel(bytes.NewReader(data), path); err != nil {
		return nil, err
	}

	if err = m.Validate(LoadTolerance); err != nil {
		return nil, errors.WithMessagef(err, "model %s", path)
	}
	return m, nil
}

// DumpModel writes m to path, as YAML for .yaml/.yml paths and as text otherwise.
func DumpModel(path string, m *Model) error {
	var buf bytes.Buffer
	if isYAML(path) {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		doc := modelDoc{Label: m.Label, Initial: m.Initial, Transition: m.Transition, Emission: m.Emission}
		if err := enc.Encode(&doc); err != nil {
			return errors.Wrapf(err, "encode model %s", m.Label)
		}
		if err := enc.Close(); err != nil {
			return errors.Wrapf(err, "encode model %s", m.Label)
		}
	} else if err := WriteModel(&buf, m); err != nil {
		return err
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "write model file %s", path)
	}
	return nil
}

// LoadModelList loads every model named in the list file, one path per line.
func LoadModelList(path string) ([]*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open model list %s", path)
	}
	defer f.Close()

	var models []*Model
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" {
			continue
		}
		m, err := LoadModel(name)
		if err != nil {
			return nil, errors.WithMessagef(err, "model list %s", path)
		}
		models = append(models, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read model list %s", path)
	}
	if len(models) == 0 {
		return nil, errors.Wrapf(ErrNoModels, "model list %s", path)
	}
	return models, nil
}
