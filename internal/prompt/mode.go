package prompt

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidMode = errors.New("invalid mode")

// Persona selects who the assistant pretends to be.
type Persona string

const (
	PersonaCompanion Persona = "companion"
	PersonaManager   Persona = "manager"
)

// Verbosity selects how long replies should be.
type Verbosity string

const (
	VerbosityShort    Verbosity = "short"
	VerbosityDetailed Verbosity = "detailed"
)

// Settings are the two independent axes behind the UI's single mode selector.
type Settings struct {
	Persona   Persona
	Verbosity Verbosity
}

// ManagesTasks reports whether replies may carry a memo with a due time.
func (s Settings) ManagesTasks() bool {
	return s.Persona == PersonaManager
}

// ParseMode maps the UI mode selector onto Settings. Empty means "short".
func ParseMode(mode string) (Settings, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "short", "chat", "casual":
		return Settings{Persona: PersonaCompanion, Verbosity: VerbosityShort}, nil
	case "detailed":
		return Settings{Persona: PersonaCompanion, Verbosity: VerbosityDetailed}, nil
	case "manager":
		return Settings{Persona: PersonaManager, Verbosity: VerbosityShort}, nil
	default:
		return Settings{}, fmt.Errorf("%w: %q (expected short|detailed|manager)", ErrInvalidMode, mode)
	}
}

// Override applies explicit persona/verbosity choices on top of s.
func (s Settings) Override(persona, verbosity string) (Settings, error) {
	switch p := Persona(strings.ToLower(strings.TrimSpace(persona))); p {
	case "":
	case PersonaCompanion, PersonaManager:
		s.Persona = p
	default:
		return Settings{}, fmt.Errorf("%w: unknown persona %q", ErrInvalidMode, persona)
	}
	switch v := Verbosity(strings.ToLower(strings.TrimSpace(verbosity))); v {
	case "":
	case VerbosityShort, VerbosityDetailed:
		s.Verbosity = v
	default:
		return Settings{}, fmt.Errorf("%w: unknown verbosity %q", ErrInvalidMode, verbosity)
	}
	return s, nil
}
