package caps

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse converts textual caps into Caps. ANY and EMPTY keywords are
// recognized, structures are separated with semicolons.
func Parse(s string) (Caps, error) {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "ANY":
		return Any(), nil
	case "", "EMPTY", "NONE":
		return Empty(), nil
	}
	var c Caps
	for _, part := range split(s, ';') {
		if strings.TrimSpace(part) == "" {
			continue
		}
		st, err := parseStructure(part)
		if err != nil {
			return Caps{}, err
		}
		c.structures = append(c.structures, st)
	}
	return c, nil
}

// MustParse is like Parse, but panics on error. Should be used for
// static caps declarations only.
func MustParse(s string) Caps {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

func parseStructure(s string) (Structure, error) {
	parts := split(s, ',')
	name := strings.TrimSpace(parts[0])
	if name == "" || strings.ContainsAny(name, "=[]{}() ") {
		return Structure{}, fmt.Errorf("%w: invalid media type %q", ErrSyntax, name)
	}
	st := Structure{Name: name, Fields: make(map[string]interface{}, len(parts)-1)}
	for _, field := range parts[1:] {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			return Structure{}, fmt.Errorf("%w: field %q has no value", ErrSyntax, strings.TrimSpace(field))
		}
		key := strings.TrimSpace(kv[0])
		if key == "" {
			return Structure{}, fmt.Errorf("%w: empty field name in %q", ErrSyntax, name)
		}
		v, err := parseValue(strings.TrimSpace(kv[1]))
		if err != nil {
			return Structure{}, fmt.Errorf("field %s: %w", key, err)
		}
		st.Fields[key] = v
	}
	return st, nil
}

func parseValue(s string) (interface{}, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty value", ErrSyntax)
	}
	var hint string
	if strings.HasPrefix(s, "(") {
		end := strings.Index(s, ")")
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated type hint in %q", ErrSyntax, s)
		}
		hint = s[1:end]
		s = strings.TrimSpace(s[end+1:])
	}
	switch {
	case strings.HasPrefix(s, "["):
		if !strings.HasSuffix(s, "]") {
			return nil, fmt.Errorf("%w: unterminated range %q", ErrSyntax, s)
		}
		bounds := split(s[1:len(s)-1], ',')
		if len(bounds) != 2 {
			return nil, fmt.Errorf("%w: range %q must have two bounds", ErrSyntax, s)
		}
		lo, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
		if err != nil {
			return nil, fmt.Errorf("%w: range bound %q", ErrSyntax, bounds[0])
		}
		hi, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
		if err != nil {
			return nil, fmt.Errorf("%w: range bound %q", ErrSyntax, bounds[1])
		}
		if lo > hi {
			return nil, fmt.Errorf("%w: empty range %q", ErrSyntax, s)
		}
		return IntRange{Min: lo, Max: hi}, nil
	case strings.HasPrefix(s, "{"):
		if !strings.HasSuffix(s, "}") {
			return nil, fmt.Errorf("%w: unterminated list %q", ErrSyntax, s)
		}
		var l List
		for _, e := range split(s[1:len(s)-1], ',') {
			e = strings.TrimSpace(e)
			if hint != "" {
				e = "(" + hint + ")" + e
			}
			v, err := parseValue(e)
			if err != nil {
				return nil, err
			}
			l = append(l, v)
		}
		return l, nil
	}
	s = strings.Trim(s, `"`)
	switch hint {
	case "int", "i":
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not int", ErrSyntax, s)
		}
		return v, nil
	case "boolean", "bool", "b":
		v, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not boolean", ErrSyntax, s)
		}
		return v, nil
	case "string", "s":
		return s, nil
	case "":
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrSyntax, hint)
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v, nil
	}
	if s == "true" || s == "false" {
		return s == "true", nil
	}
	return s, nil
}

// split divides s by sep ignoring separators inside brackets and braces.
func split(s string, sep rune) []string {
	var (
		parts []string
		depth int
		start int
	)
	for i, r := range s {
		switch r {
		case '[', '{':
			depth++
		case ']', '}':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
