// Package cue implements the cue-sheet parser: a
// line-oriented tokenizer, command dispatch, an arrangement pass that
// resolves INDEX/PREGAP/POSTGAP into per-track segment lists, and a
// builder that turns each track into a Composite of Trimmer/Null
// sources with overlaid tags and a templated output filename.
package cue

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/farcloser/waveforge/internal/errs"
)

// line is one tokenized cue-sheet line: the command name plus its
// remaining fields, and the 1-based source line number for error
// reporting.
type line struct {
	number int
	fields []string
}

// tokenize splits r into lines and each line into whitespace-separated
// fields, honoring double-quoted fields with "" as an embedded quote.
// An unterminated quote fails with the offending line number.
func tokenize(r io.Reader) ([]line, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	var lines []line

	lineNo := 0

	for scanner.Scan() {
		lineNo++

		raw := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(raw) == "" {
			continue
		}

		fields, err := tokenizeLine(raw, lineNo)
		if err != nil {
			return nil, err
		}

		if len(fields) == 0 {
			continue
		}

		lines = append(lines, line{number: lineNo, fields: fields})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
	}

	return lines, nil
}

func tokenizeLine(text string, lineNo int) ([]string, error) {
	var fields []string

	i, n := 0, len(text)

	for i < n {
		for i < n && isSpace(text[i]) {
			i++
		}

		if i >= n {
			break
		}

		if text[i] == '"' {
			field, next, err := tokenizeQuoted(text, i, lineNo)
			if err != nil {
				return nil, err
			}

			fields = append(fields, field)
			i = next

			continue
		}

		start := i
		for i < n && !isSpace(text[i]) {
			i++
		}

		fields = append(fields, text[start:i])
	}

	return fields, nil
}

func tokenizeQuoted(text string, start int, lineNo int) (string, int, error) {
	var sb strings.Builder

	i, n := start+1, len(text)
	closed := false

	for i < n {
		if text[i] == '"' {
			if i+1 < n && text[i+1] == '"' {
				sb.WriteByte('"')
				i += 2

				continue
			}

			i++
			closed = true

			break
		}

		sb.WriteByte(text[i])
		i++
	}

	if !closed {
		return "", 0, fmt.Errorf("%w: runaway quoted field at line %d", errs.ErrMalformedContainer, lineNo)
	}

	return sb.String(), i, nil
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t'
}
