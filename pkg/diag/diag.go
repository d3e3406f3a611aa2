// Package diag collects positioned messages produced by the compiler and
// the virtual machine.
//
// Messages are line oriented. Each one is tagged ERROR or WARNING and carries
// a source position when one is known:
//
//	ERROR main.tn:3:7: undefined identifier "x"
//	WARNING main.tn:9:5: local variable "tmp" is never used
package diag

import (
	"fmt"
	"strings"
)

// Severity classifies a message.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "ERROR"
	case SeverityWarning:
		return "WARNING"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Pos is a source position. A zero Line means "no position".
type Pos struct {
	File   string
	Line   int
	Column int
}

// IsValid reports whether the position refers to a source line.
func (p Pos) IsValid() bool {
	return p.Line > 0
}

func (p Pos) String() string {
	if !p.IsValid() {
		return p.File
	}
	if p.File == "" {
		return fmt.Sprintf("%d:%d", p.Line, p.Column)
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
}

// Message is a single diagnostic.
type Message struct {
	Severity Severity
	Pos      Pos
	Text     string
}

func (m Message) String() string {
	where := m.Pos.String()
	if where == "" {
		return fmt.Sprintf("%s: %s", m.Severity, m.Text)
	}
	return fmt.Sprintf("%s %s: %s", m.Severity, where, m.Text)
}

// Sink accumulates messages in the order they are reported.
// The zero value is ready to use.
type Sink struct {
	messages []Message
	errors   int
	warnings int
}

// NewSink returns an empty sink.
func NewSink() *Sink {
	return &Sink{}
}

// Add appends a message.
func (s *Sink) Add(m Message) {
	s.messages = append(s.messages, m)
	if m.Severity == SeverityError {
		s.errors++
	} else {
		s.warnings++
	}
}

// Errorf records an error at pos.
func (s *Sink) Errorf(pos Pos, format string, args ...interface{}) {
	s.Add(Message{Severity: SeverityError, Pos: pos, Text: fmt.Sprintf(format, args...)})
}

// Warningf records a warning at pos.
func (s *Sink) Warningf(pos Pos, format string, args ...interface{}) {
	s.Add(Message{Severity: SeverityWarning, Pos: pos, Text: fmt.Sprintf(format, args...)})
}

// Merge appends every message of other.
func (s *Sink) Merge(other *Sink) {
	if other == nil {
		return
	}
	for _, m := range other.messages {
		s.Add(m)
	}
}

// Messages returns the recorded messages.
func (s *Sink) Messages() []Message {
	return s.messages
}

// Errors returns only the error messages.
func (s *Sink) Errors() []Message {
	var out []Message
	for _, m := range s.messages {
		if m.Severity == SeverityError {
			out = append(out, m)
		}
	}
	return out
}

// ErrorCount returns the number of errors recorded.
func (s *Sink) ErrorCount() int { return s.errors }

// WarningCount returns the number of warnings recorded.
func (s *Sink) WarningCount() int { return s.warnings }

// HasErrors reports whether at least one error was recorded.
func (s *Sink) HasErrors() bool { return s.errors > 0 }

// Len returns the total number of messages.
func (s *Sink) Len() int { return len(s.messages) }

// PromoteWarnings turns every warning into an error.
func (s *Sink) PromoteWarnings() {
	for i := range s.messages {
		if s.messages[i].Severity == SeverityWarning {
			s.messages[i].Severity = SeverityError
			s.warnings--
			s.errors++
		}
	}
}

// String renders all messages, one per line.
func (s *Sink) String() string {
	var b strings.Builder
	for _, m := range s.messages {
		b.WriteString(m.String())
		b.WriteByte('\n')
	}
	return b.String()
}
