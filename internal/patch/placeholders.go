package patch

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Placeholders are the tokens patch authors embed in replacement text to
// reach their registrar. They are resolved only when a patch is applied.
type Placeholders struct {
	Self      string
	Functions string
	Data      string
}

// NewPlaceholders derives tokens from seed.
func NewPlaceholders(seed string) Placeholders {
	return Placeholders{
		Self:      "__splice_self_" + seed + "__",
		Functions: "__splice_functions_" + seed + "__",
		Data:      "__splice_data_" + seed + "__",
	}
}

// RandomPlaceholders derives tokens from a fresh random uuid so concurrently
// active engines never share them.
func RandomPlaceholders() Placeholders {
	return NewPlaceholders(strings.ReplaceAll(uuid.NewString(), "-", "")[:16])
}

// Tokens returns the three tokens.
func (p Placeholders) Tokens() []string {
	return []string{p.Self, p.Functions, p.Data}
}

// Contains reports whether text still holds any token.
func (p Placeholders) Contains(text string) bool {
	for _, tok := range p.Tokens() {
		if strings.Contains(text, tok) {
			return true
		}
	}
	return false
}

// Resolve replaces every token with an expression that looks up registrar's
// state when the compiled code runs.
func (p Placeholders) Resolve(text, registrar string) string {
	return strings.NewReplacer(
		p.Self, fmt.Sprintf("rt.Self(%q)", registrar),
		p.Functions, fmt.Sprintf("rt.Functions(%q)", registrar),
		p.Data, fmt.Sprintf("rt.Data(%q)", registrar),
	).Replace(text)
}

// Expand substitutes the authoring templates {{self}}, {{functions}} and
// {{data}} with the tokens.
func (p Placeholders) Expand(text string) string {
	return strings.NewReplacer(
		"{{self}}", p.Self,
		"{{functions}}", p.Functions,
		"{{data}}", p.Data,
	).Replace(text)
}
