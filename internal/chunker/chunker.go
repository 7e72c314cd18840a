// Package chunker splits long experience text into pieces sized for the
// semantic index.
package chunker

import (
	"strings"

	"github.com/rcliao/ham/internal/processor"
)

const (
	DefaultTargetSize = 400
	DefaultMaxSize    = 600
)

// Options configures chunking behavior.
type Options struct {
	TargetSize int
	MaxSize    int
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{TargetSize: DefaultTargetSize, MaxSize: DefaultMaxSize}
}

// Chunk is one piece of the original text.
type Chunk struct {
	Seq  int
	Text string
}

// Split breaks text into chunks on sentence boundaries. Text no longer
// than MaxSize comes back as a single chunk; empty text as none.
func Split(text string, opts Options) []Chunk {
	if opts.TargetSize <= 0 || opts.MaxSize < opts.TargetSize {
		opts = DefaultOptions()
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= opts.MaxSize {
		return []Chunk{{Seq: 0, Text: text}}
	}

	var (
		out []Chunk
		cur strings.Builder
	)
	flush := func() {
		if t := strings.TrimSpace(cur.String()); t != "" {
			out = append(out, Chunk{Seq: len(out), Text: t})
		}
		cur.Reset()
	}

	for _, s := range processor.SplitSentences(text) {
		for _, piece := range hardSplit(s, opts.MaxSize) {
			if cur.Len() > 0 && cur.Len()+1+len(piece) > opts.TargetSize {
				flush()
			}
			if cur.Len() > 0 {
				cur.WriteByte(' ')
			}
			cur.WriteString(piece)
		}
	}
	flush()
	return out
}

// hardSplit breaks a sentence longer than max on word boundaries.
func hardSplit(s string, max int) []string {
	if len(s) <= max {
		return []string{s}
	}
	var (
		out []string
		cur strings.Builder
	)
	for _, w := range strings.Fields(s) {
		if cur.Len() > 0 && cur.Len()+1+len(w) > max {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
