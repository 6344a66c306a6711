package waveforge

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/farcloser/waveforge/internal/dsp/mixer"
	"github.com/farcloser/waveforge/internal/errs"
)

// Matrix and Coefficient are re-exported from internal/dsp/mixer so
// callers building a Config never import internal/dsp/mixer directly.
type (
	Matrix      = mixer.Matrix
	Coefficient = mixer.Coefficient
)

// MatrixPresets are the named downmix presets --matrix accepts instead
// of a path to a matrix file.
var MatrixPresets = mixer.Presets

// LoadMatrixFile parses a matrix preset file: one row per
// line, whitespace-separated real or imaginary numbers, an i/I/j/J
// suffix marking a positive imaginary coefficient and a k/K suffix
// marking a negative one, empty lines permitted (skipped, not treated
// as a zero-width row).
func LoadMatrixFile(r io.Reader) (Matrix, error) {
	var m Matrix

	scanner := bufio.NewScanner(r)

	lineNo := 0

	for scanner.Scan() {
		lineNo++

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		row := make([]Coefficient, len(fields))

		for i, tok := range fields {
			c, err := parseCoefficient(tok)
			if err != nil {
				return nil, fmt.Errorf("%w: matrix file line %d: %w", errs.ErrInvalidMatrix, lineNo, err)
			}

			row[i] = c
		}

		m = append(m, row)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
	}

	return m, nil
}

// parseCoefficient parses one whitespace-delimited matrix token: a
// signed real number, optionally suffixed with i/I/j/J (positive
// imaginary) or k/K (negative imaginary).
func parseCoefficient(tok string) (Coefficient, error) {
	if tok == "" {
		return Coefficient{}, fmt.Errorf("empty coefficient")
	}

	last := tok[len(tok)-1]

	switch last {
	case 'i', 'I', 'j', 'J':
		v, err := strconv.ParseFloat(tok[:len(tok)-1], 64)
		if err != nil {
			return Coefficient{}, fmt.Errorf("malformed imaginary coefficient %q: %w", tok, err)
		}

		return Coefficient{Imag: v}, nil
	case 'k', 'K':
		v, err := strconv.ParseFloat(tok[:len(tok)-1], 64)
		if err != nil {
			return Coefficient{}, fmt.Errorf("malformed imaginary coefficient %q: %w", tok, err)
		}

		return Coefficient{Imag: -v}, nil
	default:
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return Coefficient{}, fmt.Errorf("malformed coefficient %q: %w", tok, err)
		}

		return Coefficient{Real: v}, nil
	}
}
