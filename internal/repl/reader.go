package repl

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

// LineReader reads one line of user input per prompt.
// It returns io.EOF when the input is exhausted and ErrAborted on Ctrl+C.
type LineReader interface {
	Prompt(prompt string) (string, error)
	Close() error
}

// ErrAborted reports that the user pressed Ctrl+C at the prompt.
var ErrAborted = liner.ErrPromptAborted

// LinerReader is a LineReader with line editing and persistent history.
type LinerReader struct {
	line        *liner.State
	historyFile string
}

// NewLinerReader opens the terminal for line editing. History is read from and written
// back to historyFile when it is set.
func NewLinerReader(historyFile string) *LinerReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	r := &LinerReader{line: line, historyFile: historyFile}
	if historyFile != "" {
		if f, err := os.Open(historyFile); err == nil {
			if _, err := line.ReadHistory(f); err != nil {
				slog.Debug("LinerReader: history not loaded", "path", historyFile, "error", err)
			}
			f.Close()
		}
	}
	return r
}

// Prompt reads a line and records non-blank input in the history.
func (r *LinerReader) Prompt(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves the history and restores the terminal.
func (r *LinerReader) Close() error {
	if r.historyFile != "" {
		if err := r.saveHistory(); err != nil {
			slog.Warn("LinerReader.Close: history not saved", "path", r.historyFile, "error", err)
		}
	}
	return r.line.Close()
}

func (r *LinerReader) saveHistory() error {
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = r.line.WriteHistory(f)
	return err
}

// isEndOfInput reports whether err ends the session rather than a single command.
func isEndOfInput(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, ErrAborted)
}
