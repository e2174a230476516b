// Package caps describes the media types pads can produce or accept and
// implements capability negotiation.
//
// Caps are written in the familiar textual form:
//
//	audio/x-raw, format=S16LE, rate=(int)44100, channels=[1, 2]; audio/x-wav
//
// A caps value is a list of structures. Two caps can be linked if their
// intersection is not empty: at least one pair of structures share the
// media type name and every field present in both has a common value.
package caps

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrSyntax is returned when caps string cannot be parsed.
var ErrSyntax = errors.New("caps syntax error")

type (
	// Caps is a set of media type structures. Zero value is empty caps
	// that intersect with nothing.
	Caps struct {
		any        bool
		structures []Structure
	}

	// Structure describes a single media type with its constraints.
	Structure struct {
		Name   string
		Fields map[string]interface{}
	}

	// IntRange is an inclusive range of integer values.
	IntRange struct {
		Min, Max int
	}

	// List is a set of alternative values.
	List []interface{}
)

// Any returns caps that are compatible with everything.
func Any() Caps {
	return Caps{any: true}
}

// Empty returns caps that are compatible with nothing.
func Empty() Caps {
	return Caps{}
}

// New returns caps composed from provided structures.
func New(structures ...Structure) Caps {
	c := Caps{structures: make([]Structure, 0, len(structures))}
	for _, s := range structures {
		c.structures = append(c.structures, s.clone())
	}
	return c
}

// NewStructure returns a structure with name and key-value pairs of fields.
// It panics if pairs are odd or key is not a string.
func NewStructure(name string, pairs ...interface{}) Structure {
	if len(pairs)%2 != 0 {
		panic("caps: odd number of field pairs")
	}
	s := Structure{Name: name, Fields: make(map[string]interface{}, len(pairs)/2)}
	for i := 0; i < len(pairs); i += 2 {
		s.Fields[pairs[i].(string)] = pairs[i+1]
	}
	return s
}

// IsAny returns true for caps compatible with everything.
func (c Caps) IsAny() bool {
	return c.any
}

// IsEmpty returns true for caps compatible with nothing.
func (c Caps) IsEmpty() bool {
	return !c.any && len(c.structures) == 0
}

// IsFixed returns true if caps contain exactly one structure and all of its
// fields have a single value.
func (c Caps) IsFixed() bool {
	if c.any || len(c.structures) != 1 {
		return false
	}
	for _, v := range c.structures[0].Fields {
		switch v.(type) {
		case IntRange, List:
			return false
		}
	}
	return true
}

// Structures returns a copy of caps structures.
func (c Caps) Structures() []Structure {
	s := make([]Structure, 0, len(c.structures))
	for i := range c.structures {
		s = append(s, c.structures[i].clone())
	}
	return s
}

// Family returns the media type name of the first structure. Empty string
// is returned for empty and any caps.
func (c Caps) Family() string {
	if c.any || len(c.structures) == 0 {
		return ""
	}
	return c.structures[0].Name
}

// MatchesFamily checks if media type of c starts with any of families
// media types. Any families match everything.
func (c Caps) MatchesFamily(families Caps) bool {
	if families.any {
		return true
	}
	name := c.Family()
	if name == "" {
		return false
	}
	for _, s := range families.structures {
		if strings.HasPrefix(name, s.Name) {
			return true
		}
	}
	return false
}

// CanIntersect returns true if intersection of caps is not empty.
func (c Caps) CanIntersect(other Caps) bool {
	return !Intersect(c, other).IsEmpty()
}

// Intersect returns caps that satisfy both a and b.
func Intersect(a, b Caps) Caps {
	switch {
	case a.any:
		return b.copy()
	case b.any:
		return a.copy()
	}
	var result Caps
	for _, sa := range a.structures {
		for _, sb := range b.structures {
			if s, ok := intersectStructure(sa, sb); ok {
				result.structures = append(result.structures, s)
			}
		}
	}
	return result
}

func (c Caps) copy() Caps {
	if c.any {
		return Any()
	}
	return New(c.structures...)
}

// String returns textual representation of caps that can be parsed back.
func (c Caps) String() string {
	if c.any {
		return "ANY"
	}
	if len(c.structures) == 0 {
		return "EMPTY"
	}
	s := make([]string, 0, len(c.structures))
	for _, st := range c.structures {
		s = append(s, st.String())
	}
	return strings.Join(s, "; ")
}

// Get returns field value.
func (s Structure) Get(field string) (interface{}, bool) {
	v, ok := s.Fields[field]
	return v, ok
}

// Int returns fixed integer field value.
func (s Structure) Int(field string) (int, bool) {
	v, ok := s.Fields[field].(int)
	return v, ok
}

// Str returns fixed string field value.
func (s Structure) Str(field string) (string, bool) {
	v, ok := s.Fields[field].(string)
	return v, ok
}

func (s Structure) String() string {
	if len(s.Fields) == 0 {
		return s.Name
	}
	keys := make([]string, 0, len(s.Fields))
	for k := range s.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(s.Name)
	for _, k := range keys {
		fmt.Fprintf(&b, ", %s=%s", k, formatValue(s.Fields[k]))
	}
	return b.String()
}

func (s Structure) clone() Structure {
	c := Structure{Name: s.Name, Fields: make(map[string]interface{}, len(s.Fields))}
	for k, v := range s.Fields {
		c.Fields[k] = v
	}
	return c
}

func intersectStructure(a, b Structure) (Structure, bool) {
	if a.Name != b.Name {
		return Structure{}, false
	}
	result := Structure{Name: a.Name, Fields: make(map[string]interface{}, len(a.Fields))}
	for k, va := range a.Fields {
		vb, ok := b.Fields[k]
		if !ok {
			result.Fields[k] = va
			continue
		}
		v, ok := intersectValue(va, vb)
		if !ok {
			return Structure{}, false
		}
		result.Fields[k] = v
	}
	for k, vb := range b.Fields {
		if _, ok := a.Fields[k]; !ok {
			result.Fields[k] = vb
		}
	}
	return result, true
}

func intersectValue(a, b interface{}) (interface{}, bool) {
	switch va := a.(type) {
	case List:
		return intersectList(va, b)
	case IntRange:
		switch vb := b.(type) {
		case int:
			if vb >= va.Min && vb <= va.Max {
				return vb, true
			}
			return nil, false
		case IntRange:
			r := IntRange{Min: max(va.Min, vb.Min), Max: min(va.Max, vb.Max)}
			switch {
			case r.Min > r.Max:
				return nil, false
			case r.Min == r.Max:
				return r.Min, true
			}
			return r, true
		case List:
			return intersectList(vb, a)
		}
		return nil, false
	}
	switch vb := b.(type) {
	case List, IntRange:
		return intersectValue(vb, a)
	}
	if a == b {
		return a, true
	}
	return nil, false
}

func intersectList(l List, other interface{}) (interface{}, bool) {
	var result List
	for _, v := range l {
		if r, ok := intersectValue(v, other); ok {
			result = append(result, r)
		}
	}
	switch len(result) {
	case 0:
		return nil, false
	case 1:
		return result[0], true
	}
	return result, true
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case int:
		return fmt.Sprintf("(int)%d", val)
	case bool:
		return fmt.Sprintf("(boolean)%t", val)
	case string:
		if _, err := strconv.Atoi(val); err == nil || val == "true" || val == "false" {
			return "(string)" + val
		}
		return val
	case IntRange:
		return fmt.Sprintf("[%d, %d]", val.Min, val.Max)
	case List:
		s := make([]string, 0, len(val))
		for _, e := range val {
			s = append(s, formatValue(e))
		}
		return "{ " + strings.Join(s, ", ") + " }"
	}
	return fmt.Sprint(v)
}
