package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/hokaccha/go-prettyjson"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

var (
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

type friendly interface {
	FriendlyErrorMessage() string
}

func fatal(err error) {
	msg := err.Error()
	if f, ok := err.(friendly); ok {
		msg = strings.TrimRight(f.FriendlyErrorMessage(), "\n")
	}
	fmt.Fprintf(os.Stderr, "%s\n", red(msg))
	os.Exit(1)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// newLogger logs human readable lines to a terminal and JSON otherwise.
func newLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	out := w
	if isTerminal(w) {
		out = zerolog.ConsoleWriter{Out: w, NoColor: color.NoColor}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

var outputFormats = []string{"json", "text"}

// formatOutput renders a command result. With no format, JSON is used when
// the value marshals and the plain form otherwise.
func formatOutput(result any, text string, format string) (string, error) {
	switch strings.ToLower(format) {
	case "":
		if result == nil {
			return text, nil
		}
		data, err := marshalJSON(result)
		if err != nil {
			return text, nil
		}
		return string(data), nil
	case "json":
		data, err := marshalJSON(result)
		if err != nil {
			return "", err
		}
		return string(data), nil
	case "text":
		return text, nil
	default:
		return "", fmt.Errorf("unknown output format: %s (want one of %s)", format, strings.Join(outputFormats, ", "))
	}
}

func marshalJSON(v any) ([]byte, error) {
	if color.NoColor {
		return json.MarshalIndent(v, "", "  ")
	}
	return prettyjson.Marshal(v)
}
