package ml

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// DefaultSymbols is the observation alphabet of the training corpora.
const DefaultSymbols = "ABCDEF"

// Sequence is an observed sequence of symbol indices.
type Sequence []int

// Validate checks that the sequence is non-empty and every symbol is in [0, symbols).
func (s Sequence) Validate(symbols int) error {
	if len(s) == 0 {
		return ErrEmptySequence
	}
	for t, o := range s {
		if o < 0 || o >= symbols {
			return errors.Wrapf(ErrSymbolOutOfRange, "symbol %d at t=%d, alphabet size %d", o, t, symbols)
		}
	}
	return nil
}

// Alphabet maps observation characters to symbol indices.
type Alphabet struct {
	symbols []rune
	index   map[rune]int
}

func NewAlphabet(symbols string) (*Alphabet, error) {
	a := &Alphabet{index: make(map[rune]int)}
	for _, r := range symbols {
		if _, ok := a.index[r]; ok {
			return nil, errors.Errorf("duplicated symbol %q in alphabet %q", r, symbols)
		}
		a.index[r] = len(a.symbols)
		a.symbols = append(a.symbols, r)
	}
	if len(a.symbols) == 0 {
		return nil, errors.New("empty alphabet")
	}
	return a, nil
}

// DefaultAlphabet returns the A-F alphabet.
func DefaultAlphabet() *Alphabet {
	a, _ := NewAlphabet(DefaultSymbols)
	return a
}

func (a *Alphabet) Size() int {
	return len(a.symbols)
}

func (a *Alphabet) String() string {
	return string(a.symbols)
}

// Decode maps token to a sequence. Decoding stops at the first character that
// is not in the alphabet; a token that yields no symbol is an error.
func (a *Alphabet) Decode(token string) (Sequence, error) {
	seq := make(Sequence, 0, len(token))
	for _, r := range token {
		idx, ok := a.index[r]
		if !ok {
			break
		}
		seq = append(seq, idx)
	}
	if len(seq) == 0 {
		return nil, errors.Wrapf(ErrEmptySequence, "token %q", token)
	}
	return seq, nil
}

// Encode is the inverse of Decode.
func (a *Alphabet) Encode(seq Sequence) (string, error) {
	var sb strings.Builder
	for t, o := range seq {
		if o < 0 || o >= len(a.symbols) {
			return "", errors.Wrapf(ErrSymbolOutOfRange, "symbol %d at t=%d", o, t)
		}
		sb.WriteRune(a.symbols[o])
	}
	return sb.String(), nil
}

// ReadSequences reads one sequence per whitespace separated token.
func ReadSequences(r io.Reader, a *Alphabet) ([]Sequence, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	scanner.Split(bufio.ScanWords)

	var seqs []Sequence
	for scanner.Scan() {
		seq, err := a.Decode(scanner.Text())
		if err != nil {
			return nil, errors.WithMessagef(err, "sequence %d", len(seqs))
		}
		seqs = append(seqs, seq)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read sequences")
	}
	return seqs, nil
}

// LoadSequences reads the sequence file at path.
func LoadSequences(path string, a *Alphabet) ([]Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open sequence file %s", path)
	}
	defer f.Close()

	seqs, err := ReadSequences(f, a)
	if err != nil {
		return nil, errors.WithMessagef(err, "sequence file %s", path)
	}
	return seqs, nil
}
