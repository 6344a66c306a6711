package waveforge

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/farcloser/waveforge/internal/errs"
)

// LoadChapterFile parses the simple chapter file format: lines of
// "HH:MM:SS.sss <title>", timestamps strictly increasing, the first
// timestamp required to be zero. The file records absolute timestamps;
// this returns Chapters with each entry's Duration derived from the gap
// to the next timestamp. The final chapter's Duration is left 0,
// meaning "runs to the end of the source", since the file has no
// closing timestamp.
func LoadChapterFile(r io.Reader) ([]Chapter, error) {
	type entry struct {
		seconds float64
		title   string
	}

	var entries []entry

	scanner := bufio.NewScanner(r)

	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: chapter file line %d: missing title", errs.ErrMalformedContainer, lineNo)
		}

		seconds, err := parseChapterTimestamp(fields[0])
		if err != nil {
			return nil, fmt.Errorf("%w: chapter file line %d: %w", errs.ErrMalformedContainer, lineNo, err)
		}

		entries = append(entries, entry{seconds: seconds, title: strings.TrimSpace(fields[1])})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrIOFailure, err)
	}

	if len(entries) == 0 {
		return nil, nil
	}

	if entries[0].seconds != 0 {
		return nil, fmt.Errorf("%w: chapter file's first timestamp must be zero, got %gs", errs.ErrMalformedContainer, entries[0].seconds)
	}

	chapters := make([]Chapter, len(entries))

	for i, e := range entries {
		if i > 0 && e.seconds <= entries[i-1].seconds {
			return nil, fmt.Errorf(
				"%w: chapter file timestamps must strictly increase, entry %d (%gs) does not follow entry %d (%gs)",
				errs.ErrMalformedContainer, i, e.seconds, i-1, entries[i-1].seconds,
			)
		}

		duration := 0.0
		if i+1 < len(entries) {
			duration = entries[i+1].seconds - e.seconds
		}

		chapters[i] = Chapter{Title: e.title, Duration: duration}
	}

	return chapters, nil
}

// parseChapterTimestamp parses "HH:MM:SS.sss" into total seconds.
func parseChapterTimestamp(s string) (float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed timestamp %q", s)
	}

	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed hours in %q: %w", s, err)
	}

	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("malformed minutes in %q: %w", s, err)
	}

	secs, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, fmt.Errorf("malformed seconds in %q: %w", s, err)
	}

	return float64(hours)*3600 + float64(minutes)*60 + secs, nil
}
