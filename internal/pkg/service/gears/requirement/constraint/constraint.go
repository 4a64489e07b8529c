// Package constraint parses package requirement strings and derives the canonical key of a requirement set.
//
// Supported forms are a bare name "pkg", an exact version "pkg==3" and a minimal version "pkg>=3".
package constraint

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/umisama/go-regexpcache"

	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

const (
	OperatorNone Operator = iota
	OperatorEq
	OperatorGe
)

const keySeparator = ","

type Operator int

// Spec is one package constraint.
type Spec struct {
	Name     string   `json:"name"`
	Operator Operator `json:"operator"`
	Version  string   `json:"version,omitempty"`
}

// Set is an ordered list of specs as declared by the user.
type Set []Spec

// Key is the canonical, order-independent identity of a Set.
type Key string

type MalformedConstraintError struct {
	Value  string
	Reason string
}

func (e MalformedConstraintError) Error() string {
	return fmt.Sprintf(`malformed requirement "%s": %s`, e.Value, e.Reason)
}

func (o Operator) String() string {
	switch o {
	case OperatorEq:
		return "=="
	case OperatorGe:
		return ">="
	default:
		return ""
	}
}

// Parse one requirement string.
func Parse(str string) (Spec, error) {
	value := strings.TrimSpace(str)
	if value == "" {
		return Spec{}, MalformedConstraintError{Value: str, Reason: "empty value"}
	}

	match := regexpcache.MustCompile(`^([^=<>!~\s]+)\s*(?:(==|>=)\s*(\S+))?$`).FindStringSubmatch(value)
	if match == nil {
		return Spec{}, MalformedConstraintError{Value: str, Reason: `expected "name", "name==version" or "name>=version"`}
	}

	spec := Spec{Name: match[1], Version: match[3]}
	if !regexpcache.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`).MatchString(spec.Name) {
		return Spec{}, MalformedConstraintError{Value: str, Reason: fmt.Sprintf(`invalid package name "%s"`, spec.Name)}
	}

	switch match[2] {
	case "==":
		spec.Operator = OperatorEq
	case ">=":
		spec.Operator = OperatorGe
	}

	if spec.Operator != OperatorNone {
		if _, err := semver.NewVersion(spec.Version); err != nil {
			return Spec{}, MalformedConstraintError{Value: str, Reason: fmt.Sprintf(`invalid version "%s"`, spec.Version)}
		}
	}

	return spec, nil
}

// ParseSet parses all requirement strings, all malformed values are reported together.
func ParseSet(values []string) (Set, error) {
	errs := errors.NewMultiError()
	out := make(Set, 0, len(values))
	for _, v := range values {
		spec, err := Parse(v)
		if err != nil {
			errs.Append(err)
			continue
		}
		out = append(out, spec)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, MalformedConstraintError{Value: "", Reason: "no requirement specified"}
	}
	return out, nil
}

func (s Spec) String() string {
	return s.Name + s.Operator.String() + s.Version
}

// Matches returns true if the version satisfies the spec.
func (s Spec) Matches(version string) bool {
	if s.Operator == OperatorNone {
		return true
	}

	actual, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	wanted, err := semver.NewVersion(s.Version)
	if err != nil {
		return false
	}
	if s.Operator == OperatorGe {
		return !actual.LessThan(wanted)
	}
	return actual.Equal(wanted)
}

func (s Spec) less(other Spec) bool {
	if s.Name != other.Name {
		return s.Name < other.Name
	}
	if s.Operator != other.Operator {
		return s.Operator < other.Operator
	}
	return s.Version < other.Version
}

// Key returns the canonical key: specs are sorted, duplicates are removed.
func (s Set) Key() Key {
	canonical := s.Canonical()
	parts := make([]string, 0, len(canonical))
	for _, spec := range canonical {
		parts = append(parts, spec.String())
	}
	return Key(strings.Join(parts, keySeparator))
}

// Canonical returns a sorted copy of the set without duplicates.
func (s Set) Canonical() Set {
	out := make(Set, len(s))
	copy(out, s)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].less(out[j])
	})
	unique := out[:0]
	for i, spec := range out {
		if i == 0 || spec != out[i-1] {
			unique = append(unique, spec)
		}
	}
	return unique
}

// Unique returns a copy of the set without duplicates, in the declared order.
func (s Set) Unique() Set {
	out := make(Set, 0, len(s))
	seen := make(map[Spec]bool, len(s))
	for _, spec := range s {
		if !seen[spec] {
			seen[spec] = true
			out = append(out, spec)
		}
	}
	return out
}

// Strings returns specs in the declared order.
func (s Set) Strings() []string {
	out := make([]string, 0, len(s))
	for _, spec := range s {
		out = append(out, spec.String())
	}
	return out
}

// HasPackage returns true if the set contains a spec for the package name.
func (s Set) HasPackage(name string) bool {
	for _, spec := range s {
		if strings.EqualFold(spec.Name, name) {
			return true
		}
	}
	return false
}

func (k Key) String() string {
	return string(k)
}
