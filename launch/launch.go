// Package launch builds pipelines from textual descriptions:
//
//	videotestsrc pattern=snow num-buffers=100 ! videoconvert ! autovideosink
//
// Elements are separated by "!" links. Words with "=" set properties of
// the preceding element, "name" property sets the element name. Named
// elements are referenced with "name." or "name.pad". Whitespace without
// a link starts a new chain:
//
//	uridecodebin name=d uri=file:///tmp/a.wav d. ! audioconvert ! autoaudiosink
//
// Elements that only have sometimes pads are linked dynamically, when
// the pad appears.
package launch

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSyntax is returned when description cannot be parsed.
	ErrSyntax = errors.New("syntax error")
	// ErrNoSuchElement is returned when reference points to unknown
	// element.
	ErrNoSuchElement = errors.New("no such element")
)

// SyntaxError describes malformed description.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%v at position %d: %s", ErrSyntax, e.Pos, e.Msg)
}

// Unwrap returns ErrSyntax.
func (e *SyntaxError) Unwrap() error { return ErrSyntax }

type (
	assignment struct {
		name, value string
	}

	// node is an element or a reference in the chain.
	node struct {
		pos   int
		kind  string
		ref   string
		pad   string
		props []assignment
	}

	// Description is a parsed pipeline description.
	Description struct {
		chains [][]*node
	}
)

func (n *node) String() string {
	if n.kind != "" {
		return n.kind
	}
	return n.ref + "." + n.pad
}

// name returns the name property of the element node.
func (n *node) name() string {
	for _, a := range n.props {
		if a.name == "name" {
			return a.value
		}
	}
	return ""
}

// Parse parses the description without making elements.
func Parse(description string) (*Description, error) {
	tokens, err := tokenize(description)
	if err != nil {
		return nil, err
	}
	var (
		d       Description
		current *node
		linked  bool
		linkPos int
	)
	for _, t := range tokens {
		switch {
		case t.link:
			if current == nil {
				return nil, &SyntaxError{Pos: t.pos, Msg: "link without source element"}
			}
			if linked {
				return nil, &SyntaxError{Pos: t.pos, Msg: "link without sink element"}
			}
			linked, linkPos = true, t.pos
		case current != nil && current.kind != "" && !linked && strings.Contains(t.text, "="):
			i := strings.Index(t.text, "=")
			if i == 0 {
				return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("property without name %q", t.text)}
			}
			current.props = append(current.props, assignment{name: t.text[:i], value: t.text[i+1:]})
		default:
			n := &node{pos: t.pos}
			switch i := strings.Index(t.text, "."); {
			case strings.Contains(t.text, "="):
				return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("property %q without element", t.text)}
			case i == 0:
				return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("reference without element name %q", t.text)}
			case i > 0:
				n.ref, n.pad = t.text[:i], t.text[i+1:]
			default:
				n.kind = t.text
			}
			if linked {
				last := len(d.chains) - 1
				d.chains[last] = append(d.chains[last], n)
			} else {
				d.chains = append(d.chains, []*node{n})
			}
			current, linked = n, false
		}
	}
	if linked {
		return nil, &SyntaxError{Pos: linkPos, Msg: "link without sink element"}
	}
	if len(d.chains) == 0 {
		return nil, &SyntaxError{Pos: 0, Msg: "empty pipeline"}
	}
	return &d, nil
}

// Elements returns number of elements made by description.
func (d *Description) Elements() int {
	count := 0
	for _, chain := range d.chains {
		for _, n := range chain {
			if n.kind != "" {
				count++
			}
		}
	}
	return count
}

type token struct {
	pos  int
	text string
	link bool
}

// tokenize splits description into words and links. Quotes group
// whitespace into a word and are removed.
func tokenize(s string) ([]token, error) {
	var (
		tokens []token
		word   strings.Builder
		start  = -1
		quote  rune
	)
	flush := func() {
		if start >= 0 {
			tokens = append(tokens, token{pos: start, text: word.String()})
			word.Reset()
			start = -1
		}
	}
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			word.WriteRune(r)
		case r == '"' || r == '\'':
			if start < 0 {
				start = i
			}
			quote = r
		case r == '!':
			flush()
			tokens = append(tokens, token{pos: i, link: true})
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()
		default:
			if start < 0 {
				start = i
			}
			word.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, &SyntaxError{Pos: len(s), Msg: "unterminated quote"}
	}
	flush()
	return tokens, nil
}
