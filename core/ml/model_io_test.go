package ml

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoStateText = `initial: 2
0.6 0.4

transition: 2
0.7 0.3
0.4 0.6

observation: 2
0.5 0.1
0.5 0.9
`

func TestReadModel(t *testing.T) {
	m, err := ReadModel(strings.NewReader(twoStateText), "two")
	require.NoError(t, err)
	requireModelInDelta(t, twoStateModel(), m, 0)
	assert.Equal(t, "two", m.Label)
}

func TestWriteModelLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteModel(&buf, twoStateModel()))
	assert.Equal(t, twoStateText, buf.String())
	assert.Equal(t, twoStateText, twoStateModel().String())
}

func TestModelTextRoundTrip(t *testing.T) {
	m := boxModel()
	m.Initial = []float64{1.0 / 3, 1.0 / 7, 1 - 1.0/3 - 1.0/7}

	var buf bytes.Buffer
	require.NoError(t, WriteModel(&buf, m))
	back, err := ReadModel(&buf, "box")
	require.NoError(t, err)
	//shortest representation parses back exactly
	requireModelInDelta(t, m, back, 0)
}

func TestReadModelSectionOrder(t *testing.T) {
	text := "transition: 2\n0.7 0.3 0.4 0.6\nobservation: 2\n0.5 0.1 0.5 0.9\ninitial: 2\n0.6 0.4\n"
	m, err := ReadModel(strings.NewReader(text), "two")
	require.NoError(t, err)
	requireModelInDelta(t, twoStateModel(), m, 0)
}

func TestReadModelErrors(t *testing.T) {
	cases := map[string]struct {
		text string
		err  error
	}{
		"truncated":          {"initial: 2\n0.6 0.4\ntransition: 2\n0.7 0.3\n0.4\n", ErrInvalidModel},
		"bad value":          {"initial: 2\n0.6 abc\n", ErrInvalidModel},
		"bad count":          {"initial: -2\n", ErrInvalidModel},
		"observation first":  {"observation: 2\n0.5 0.1 0.5 0.9\n", ErrInvalidModel},
		"duplicated section": {"initial: 1\n1\ninitial: 1\n1\n", ErrInvalidModel},
		"missing section":    {"initial: 1\n1\ntransition: 1\n1\n", ErrInvalidModel},
		"unknown section":    {"initial: 1\n1\nemission: 1\n1\n", ErrInvalidModel},
		"state mismatch":     {"initial: 2\n0.6 0.4\ntransition: 3\n", ErrDimensionMismatch},
	}
	for name, c := range cases {
		_, err := ReadModel(strings.NewReader(c.text), name)
		assert.ErrorIs(t, err, c.err, name)
	}
}

func TestDumpAndLoadModel(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"model.txt", "model.yaml", "model.yml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, DumpModel(path, boxModel()), name)

		m, err := LoadModel(path)
		require.NoError(t, err, name)
		requireModelInDelta(t, boxModel(), m, 0)
	}

	txt, err := LoadModel(filepath.Join(dir, "model.txt"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "model.txt"), txt.Label)

	yml, err := LoadModel(filepath.Join(dir, "model.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "box", yml.Label)
}

func TestLoadModelYAMLWithoutLabel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anon.yaml")
	doc := "initial: [1]\ntransition:\n  - [1]\nemission:\n  - [0.25]\n  - [0.75]\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	m, err := LoadModel(path)
	require.NoError(t, err)
	assert.Equal(t, path, m.Label)
	assert.Equal(t, 2, m.SymbolCount())
	assert.NoError(t, m.Validate(DefaultTolerance))
}

func TestLoadModelRejectsBadShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	doc := "initial: [0.5, 0.5]\ntransition:\n  - [1]\nemission:\n  - [1, 1]\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := LoadModel(path)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = LoadModel(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestLoadModelRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"nan":          "initial: 2\nnan 0.5\ntransition: 2\n0.5 0.5\n0.5 0.5\nobservation: 1\n1 1\n",
		"inf":          "initial: 2\n+Inf 0\ntransition: 2\n0.5 0.5\n0.5 0.5\nobservation: 1\n1 1\n",
		"negative":     "initial: 2\n0.5 0.5\ntransition: 2\n1.5 -0.5\n0.5 0.5\nobservation: 1\n1 1\n",
		"row sum":      "initial: 2\n0.5 0.5\ntransition: 2\n0.5 0.4\n0.5 0.5\nobservation: 1\n1 1\n",
		"emission sum": "initial: 2\n0.5 0.5\ntransition: 2\n0.5 0.5\n0.5 0.5\nobservation: 2\n0.5 0.5\n0.4 0.5\n",
	}
	for name, text := range cases {
		path := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".txt")
		require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
		_, err := LoadModel(path)
		assert.ErrorIs(t, err, ErrInvalidModel, name)
	}

	path := filepath.Join(dir, "bad.yaml")
	doc := "initial: [1]\ntransition:\n  - [1]\nemission:\n  - [0.5]\n  - [0.6]\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	_, err := LoadModel(path)
	assert.ErrorIs(t, err, ErrInvalidModel)
}

func TestLoadModelAcceptsRoundedValues(t *testing.T) {
	//uniform over six symbols written with five decimals sums to 1.00002
	text := "initial: 1\n1.00000\ntransition: 1\n1.00000\nobservation: 6\n" +
		strings.Repeat("0.16667\n", 6)
	path := filepath.Join(t.TempDir(), "rounded.txt")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))

	m, err := LoadModel(path)
	require.NoError(t, err)
	assert.Equal(t, 6, m.SymbolCount())
}

func TestLoadModelListRejectsInvalidModel(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad,
		[]byte("initial: 2\nnan 0.5\ntransition: 2\n1.5 -0.5\n0.5 0.5\nobservation: 1\n1 1\n"), 0o644))
	good := filepath.Join(dir, "good.txt")
	require.NoError(t, DumpModel(good, twoStateModel()))
	list := filepath.Join(dir, "modellist.txt")
	require.NoError(t, os.WriteFile(list, []byte(bad+"\n"+good+"\n"), 0o644))

	_, err := LoadModelList(list)
	assert.ErrorIs(t, err, ErrInvalidModel)
}

func TestLoadModelList(t *testing.T) {
	dir := t.TempDir()
	var list strings.Builder
	for i, m := range peakedModels() {
		path := filepath.Join(dir, m.Label)
		require.NoError(t, DumpModel(path, m))
		list.WriteString(path + "\n")
		if i == 0 {
			list.WriteString("\n")
		}
	}
	listPath := filepath.Join(dir, "modellist.txt")
	require.NoError(t, os.WriteFile(listPath, []byte(list.String()), 0o644))

	models, err := LoadModelList(listPath)
	require.NoError(t, err)
	require.Len(t, models, 3)
	for i, m := range models {
		assert.Equal(t, filepath.Join(dir, peakedModels()[i].Label), m.Label)
	}

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("\n"), 0o644))
	_, err = LoadModelList(empty)
	assert.ErrorIs(t, err, ErrNoModels)
}
