// Package property provides closed, typed configuration sets for
// pipeline elements.
//
// Every element kind declares the full list of options it recognizes with
// Spec values. Options outside of that list are rejected with
// ErrUnknownProperty, values that cannot be converted to the declared type
// or are out of bounds are rejected with ErrInvalidValue.
package property

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
)

var (
	// ErrUnknownProperty is returned when property is not declared for
	// the element kind.
	ErrUnknownProperty = errors.New("unknown property")
	// ErrInvalidValue is returned when value doesn't satisfy property spec.
	ErrInvalidValue = errors.New("invalid value")
)

// Error describes failed property access.
type Error struct {
	Name  string
	Value interface{}
	Err   error
}

func (e *Error) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("property %q: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("property %q value %v: %v", e.Name, e.Value, e.Err)
}

// Unwrap returns underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Type of the property value.
type Type int

// Property types.
const (
	String Type = iota
	Int
	Bool
	Float
	Enum
)

func (t Type) String() string {
	switch t {
	case String:
		return "string"
	case Int:
		return "int"
	case Bool:
		return "bool"
	case Float:
		return "float"
	case Enum:
		return "enum"
	}
	return "unknown"
}

type (
	// Spec declares a single property.
	Spec struct {
		Name    string
		Blurb   string
		Type    Type
		Default interface{}
		// Min and Max bound Int and Float properties. Bounds are ignored
		// if both are zero.
		Min, Max float64
		// Enum values for Enum properties.
		Enum []EnumValue
	}

	// EnumValue is a single option of enum property. Enum properties
	// accept both numeric values and nicks.
	EnumValue struct {
		Value int
		Nick  string
	}

	// ObserverFunc is called after the property value has changed.
	ObserverFunc func(name string, value interface{})

	// Set holds the values of declared properties.
	Set struct {
		mu        sync.RWMutex
		specs     map[string]Spec
		values    map[string]interface{}
		observers []ObserverFunc
	}
)

// NewSet returns a set with provided specs initialized to their defaults.
// It panics if default value doesn't satisfy its spec.
func NewSet(specs ...Spec) *Set {
	s := &Set{
		specs:  make(map[string]Spec, len(specs)),
		values: make(map[string]interface{}, len(specs)),
	}
	for _, spec := range specs {
		v, err := spec.convert(spec.Default)
		if err != nil {
			panic(fmt.Sprintf("property %s: invalid default: %v", spec.Name, err))
		}
		s.specs[spec.Name] = spec
		s.values[spec.Name] = v
	}
	return s
}

// Observe registers observer that is called after every successful Set.
func (s *Set) Observe(fn ObserverFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Set converts the value according to spec and stores it.
func (s *Set) Set(name string, value interface{}) error {
	s.mu.Lock()
	spec, ok := s.specs[name]
	if !ok {
		s.mu.Unlock()
		return &Error{Name: name, Err: ErrUnknownProperty}
	}
	v, err := spec.convert(value)
	if err != nil {
		s.mu.Unlock()
		return &Error{Name: name, Value: value, Err: err}
	}
	s.values[name] = v
	observers := s.observers
	s.mu.Unlock()

	for _, fn := range observers {
		fn(name, v)
	}
	return nil
}

// Get returns the current property value.
func (s *Set) Get(name string) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	if !ok {
		return nil, &Error{Name: name, Err: ErrUnknownProperty}
	}
	return v, nil
}

// Has returns true if property is declared.
func (s *Set) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.specs[name]
	return ok
}

// String returns string property value. Undeclared properties return
// empty string.
func (s *Set) String(name string) string {
	v, _ := s.Get(name)
	str, _ := v.(string)
	return str
}

// Int returns int or enum property value.
func (s *Set) Int(name string) int {
	v, _ := s.Get(name)
	i, _ := v.(int)
	return i
}

// Bool returns bool property value.
func (s *Set) Bool(name string) bool {
	v, _ := s.Get(name)
	b, _ := v.(bool)
	return b
}

// Float returns float property value.
func (s *Set) Float(name string) float64 {
	v, _ := s.Get(name)
	f, _ := v.(float64)
	return f
}

// Specs returns declared specs sorted by name.
func (s *Set) Specs() []Spec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	specs := make([]Spec, 0, len(s.specs))
	for _, spec := range s.specs {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool {
		return specs[i].Name < specs[j].Name
	})
	return specs
}

// Nick returns the nick of enum value or its number if it's not declared.
func (spec Spec) Nick(value int) string {
	for _, e := range spec.Enum {
		if e.Value == value {
			return e.Nick
		}
	}
	return strconv.Itoa(value)
}

// Range returns human readable bounds of the property.
func (spec Spec) Range() string {
	switch spec.Type {
	case Int, Float:
		if spec.Min == 0 && spec.Max == 0 {
			return ""
		}
		return fmt.Sprintf("%v..%v", spec.Min, spec.Max)
	case Enum:
		nicks := make([]string, 0, len(spec.Enum))
		for _, e := range spec.Enum {
			nicks = append(nicks, fmt.Sprintf("(%d) %s", e.Value, e.Nick))
		}
		return strings.Join(nicks, ", ")
	case Bool:
		return "true, false"
	}
	return ""
}

func (spec Spec) convert(value interface{}) (interface{}, error) {
	switch spec.Type {
	case String:
		switch v := value.(type) {
		case string:
			return v, nil
		case fmt.Stringer:
			return v.String(), nil
		}
	case Bool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return b, nil
			}
		}
	case Int:
		if i, ok := toInt(value); ok {
			return i, spec.bounds(float64(i))
		}
	case Float:
		if f, ok := toFloat(value); ok {
			return f, spec.bounds(f)
		}
	case Enum:
		if s, ok := value.(string); ok {
			for _, e := range spec.Enum {
				if e.Nick == s {
					return e.Value, nil
				}
			}
		}
		if i, ok := toInt(value); ok {
			for _, e := range spec.Enum {
				if e.Value == i {
					return i, nil
				}
			}
		}
	}
	return nil, fmt.Errorf("%w: expected %v", ErrInvalidValue, spec.Type)
}

func (spec Spec) bounds(v float64) error {
	if spec.Min == 0 && spec.Max == 0 {
		return nil
	}
	if v < spec.Min || v > spec.Max {
		return fmt.Errorf("%w: %v is out of range [%v, %v]", ErrInvalidValue, v, spec.Min, spec.Max)
	}
	return nil
}

func toInt(value interface{}) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint:
		if v <= math.MaxInt {
			return int(v), true
		}
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	case float64:
		// NaN and infinities fail the range check.
		if v == math.Trunc(v) && v >= math.MinInt && v < -math.MinInt {
			return int(v), true
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, finite(v)
	case float32:
		return float64(v), finite(float64(v))
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, finite(f)
		}
		return 0, false
	}
	if i, ok := toInt(value); ok {
		return float64(i), true
	}
	return 0, false
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
