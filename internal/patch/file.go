package patch

import (
	"errors"
	"fmt"
	"os"
	"reflect"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"

	"splice/internal/logging"
)

// ErrInvalidFile is returned for structurally invalid patch files.
var ErrInvalidFile = errors.New("patch: invalid patch file")

// File is the YAML form of a set of registrations. Find and match values
// of the form "/expr/flags" are patterns; prefix a literal that begins with
// a slash with a backslash ("\\/api/v1" in a double-quoted YAML string).
//
//	registrars:
//	  - name: radio
//	    data: {hits: 0}
//	    patches:
//	      - find: ["playerIsRadio"]
//	        replacements:
//	          - match: "/playerIsRadio:([a-z])/"
//	            replace_expr: '"radioFlag:false,x:" + groups[0]'
type File struct {
	Registrars []FileRegistrar `yaml:"registrars"`
}

// FileRegistrar declares one registrar and its patches.
type FileRegistrar struct {
	Name      string         `yaml:"name"`
	Data      map[string]any `yaml:"data,omitempty"`
	Functions []string       `yaml:"functions,omitempty"`
	Patches   []FilePatch    `yaml:"patches"`
}

// FilePatch is the YAML form of a Patch.
type FilePatch struct {
	Find         []string          `yaml:"find"`
	Replacements []FileReplacement `yaml:"replacements"`
}

// FileReplacement is the YAML form of a Replacement. Exactly one of Replace
// and ReplaceExpr must be set. ReplaceExpr is an expr-lang expression over
// {match, groups} that must yield a string.
type FileReplacement struct {
	Match       string `yaml:"match"`
	Replace     string `yaml:"replace,omitempty"`
	ReplaceExpr string `yaml:"replace_expr,omitempty"`
	All         *bool  `yaml:"all,omitempty"`
}

// Registration is a decoded registrar ready to be registered.
type Registration struct {
	Name      string
	Data      map[string]any
	Functions []string
	Patches   []Patch
}

// LoadFile reads and parses a patch file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read patch file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile parses patch file YAML.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse patch file: %w", err)
	}
	for i, r := range f.Registrars {
		if r.Name == "" {
			return nil, fmt.Errorf("%w: registrar %d has no name", ErrInvalidFile, i)
		}
	}
	return &f, nil
}

// Registrations decodes the file. Replacement text may use the {{self}},
// {{functions}} and {{data}} templates, expanded with ph.
func (f *File) Registrations(ph Placeholders) ([]Registration, error) {
	out := make([]Registration, 0, len(f.Registrars))
	for _, fr := range f.Registrars {
		reg := Registration{Name: fr.Name, Data: fr.Data, Functions: fr.Functions}
		for pi, fp := range fr.Patches {
			p, err := fp.decode(ph)
			if err != nil {
				return nil, fmt.Errorf("registrar %s patch %d: %w", fr.Name, pi, err)
			}
			p.Owner = fr.Name
			reg.Patches = append(reg.Patches, p)
		}
		out = append(out, reg)
	}
	return out, nil
}

func (fp FilePatch) decode(ph Placeholders) (Patch, error) {
	if len(fp.Find) == 0 {
		return Patch{}, fmt.Errorf("%w: empty find", ErrInvalidFile)
	}
	if len(fp.Replacements) == 0 {
		return Patch{}, fmt.Errorf("%w: no replacements", ErrInvalidFile)
	}
	var p Patch
	for _, s := range fp.Find {
		m, err := ParseMatcher(s)
		if err != nil {
			return Patch{}, err
		}
		p.Find = append(p.Find, m)
	}
	for ri, fr := range fp.Replacements {
		r, err := fr.decode(ph)
		if err != nil {
			return Patch{}, fmt.Errorf("replacement %d: %w", ri, err)
		}
		p.Replacements = append(p.Replacements, r)
	}
	return p, nil
}

func (fr FileReplacement) decode(ph Placeholders) (Replacement, error) {
	m, err := ParseMatcher(fr.Match)
	if err != nil {
		return Replacement{}, err
	}
	r := Replacement{Match: m}
	if fr.All != nil {
		r.Scope = ScopeFirst
		if *fr.All {
			r.Scope = ScopeAll
		}
	}

	switch {
	case fr.Replace != "" && fr.ReplaceExpr != "":
		return Replacement{}, fmt.Errorf("%w: both replace and replace_expr set", ErrInvalidFile)
	case fr.ReplaceExpr != "":
		fn, err := ExprFunc(ph.Expand(fr.ReplaceExpr))
		if err != nil {
			return Replacement{}, err
		}
		r.Func = fn
	default:
		r.Text = ph.Expand(fr.Replace)
	}
	return r, nil
}

// exprEnv is the environment replace_expr expressions are checked against.
type exprEnv struct {
	Match  string   `expr:"match"`
	Groups []string `expr:"groups"`
}

// ExprFunc compiles an expr-lang expression into a ReplaceFunc. A runtime
// error leaves the match unchanged.
func ExprFunc(src string) (ReplaceFunc, error) {
	prg, err := expr.Compile(src, expr.Env(exprEnv{}), expr.AsKind(reflect.String))
	if err != nil {
		return nil, fmt.Errorf("invalid replace_expr: %w", err)
	}
	return exprReplacer(prg, src), nil
}

func exprReplacer(prg *vm.Program, src string) ReplaceFunc {
	return func(match string, groups ...string) string {
		out, err := expr.Run(prg, exprEnv{Match: match, Groups: groups})
		if err != nil {
			logging.PatchWarn("replace_expr %q failed: %v", src, err)
			return match
		}
		return out.(string)
	}
}
