// Package trace carries the one-line progress messages emitted by batch runs.
package trace

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Sink receives human-readable progress lines.
type Sink interface {
	Output(format string, args ...interface{})
}

// Null discards everything.
type Null struct{}

func (Null) Output(string, ...interface{}) {}

// Text writes each line to w, newline terminated.
type Text struct {
	mu sync.Mutex
	w  io.Writer
}

func NewText(w io.Writer) *Text {
	return &Text{w: w}
}

func (t *Text) Output(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.w, fmt.Sprintf(format, args...))
}

// Zap logs each line at info level under the trace message key.
type Zap struct {
	logger *zap.Logger
}

func NewZap(logger *zap.Logger) *Zap {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Zap{logger: logger}
}

func (z *Zap) Output(format string, args ...interface{}) {
	z.logger.Info("trace", zap.String("line", fmt.Sprintf(format, args...)))
}

// Buffer keeps lines in memory.
type Buffer struct {
	mu    sync.Mutex
	lines []string
}

func (b *Buffer) Output(format string, args ...interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, fmt.Sprintf(format, args...))
}

// Lines returns a copy of the captured lines.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

func (b *Buffer) String() string {
	return strings.Join(b.Lines(), "\n")
}

// Multi fans a line out to several sinks.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

type multi []Sink

func (m multi) Output(format string, args ...interface{}) {
	for _, s := range m {
		if s != nil {
			s.Output(format, args...)
		}
	}
}

// OrNull returns s, or a Null sink when s is nil.
func OrNull(s Sink) Sink {
	if s == nil {
		return Null{}
	}
	return s
}
