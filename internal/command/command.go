// Package command parses operator commands received over MQTT and applies
// them to the inverter's passive-mode registers.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Kind is the operating mode requested by a command
type Kind int

const (
	Unknown Kind = iota
	Auto
	Charge
	Discharge
	Standby
)

// String returns the command keyword
func (k Kind) String() string {
	switch k {
	case Auto:
		return "AUTO"
	case Charge:
		return "CHARGE"
	case Discharge:
		return "DISCHARGE"
	case Standby:
		return "STANDBY"
	default:
		return "UNKNOWN"
	}
}

var keywords = map[string]Kind{
	"AUTO":      Auto,
	"CHARGE":    Charge,
	"DISCHARGE": Discharge,
	"STANDBY":   Standby,
}

// ErrNotRecognized is wrapped by the DecodeError returned for unknown keywords
var ErrNotRecognized = errors.New("command not recognized")

// Intent is a parsed command
type Intent struct {
	Kind       Kind
	PowerWatts int
	Raw        string
}

// String formats the intent for logs
func (i Intent) String() string {
	switch i.Kind {
	case Charge, Discharge:
		return fmt.Sprintf("%s %dW", i.Kind, i.PowerWatts)
	case Unknown:
		return fmt.Sprintf("UNKNOWN %q", i.Raw)
	default:
		return i.Kind.String()
	}
}

// Parse reads "<KEYWORD>[, <watts>]". Fields are split on commas and
// trimmed; keywords are case-sensitive. CHARGE and DISCHARGE need an
// integer power field. An unrecognized keyword is not a parse error: it
// yields an Unknown intent that the dispatcher rejects.
func Parse(text string) (Intent, error) {
	fields := strings.Split(text, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	kind, ok := keywords[fields[0]]
	if !ok {
		return Intent{Kind: Unknown, Raw: text}, nil
	}

	intent := Intent{Kind: kind, Raw: text}
	if kind != Charge && kind != Discharge {
		return intent, nil
	}

	if len(fields) < 2 || fields[1] == "" {
		return Intent{}, newParseError(text, fmt.Errorf("%s requires a power value", kind))
	}
	watts, err := strconv.Atoi(fields[1])
	if err != nil {
		return Intent{}, newParseError(text, fmt.Errorf("invalid power %q: %w", fields[1], err))
	}
	intent.PowerWatts = watts
	return intent, nil
}

// keywordOf returns the kind named by the first field of text, Unknown if
// the keyword is not recognized
func keywordOf(text string) Kind {
	first, _, _ := strings.Cut(text, ",")
	return keywords[strings.TrimSpace(first)]
}

// Slot holds at most one pending command. A newer Put replaces an
// undrained one.
type Slot struct {
	mu      sync.Mutex
	pending string
	full    bool
}

// Put stores text, replacing any pending command
func (s *Slot) Put(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = text
	s.full = true
}

// Take drains the pending command
func (s *Slot) Take() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.full {
		return "", false
	}
	text := s.pending
	s.pending, s.full = "", false
	return text, true
}
