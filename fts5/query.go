package fts5

import (
	"strconv"
	"strings"

	"github.com/fts5go/fts5go/internal/base"
	"github.com/fts5go/fts5go/internal/expr"
)

// defaultNearSlop matches the original implementation's default NEAR
// window when no explicit distance is given.
const defaultNearSlop = 10

type queryParser struct {
	toks []string
	pos  int
	col  int
	src  expr.PostingSource
}

// ParseQuery compiles a MATCH query string into an expr.Node tree
// (§4.7), the column restriction -1 meaning "any column" (a bare
// `colname:term` column filter is not modeled; the vtab layer resolves
// that before calling in, passing col explicitly per phrase group via
// repeated calls is out of scope for this minimal grammar).
func ParseQuery(query string, col int, src expr.PostingSource) (expr.Node, error) {
	p := &queryParser{toks: tokenizeQuery(query), col: col, src: src}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, base.Misusef("fts5: unexpected token %q in query", p.toks[p.pos])
	}
	return node, nil
}

func tokenizeQuery(s string) []string {
	var toks []string
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '"':
			j := i + 1
			for j < len(s) && s[j] != '"' {
				j++
			}
			toks = append(toks, s[i:min(j+1, len(s))])
			i = j + 1
		case c == '(' || c == ')' || c == ',':
			toks = append(toks, string(c))
			i++
		default:
			j := i
			for j < len(s) && s[j] != ' ' && s[j] != '\t' && s[j] != '\n' && s[j] != '(' && s[j] != ')' && s[j] != ',' {
				j++
			}
			toks = append(toks, s[i:j])
			i = j
		}
	}
	return toks
}

func (p *queryParser) peek() string {
	if p.pos >= len(p.toks) {
		return ""
	}
	return p.toks[p.pos]
}

func (p *queryParser) peekUpper() string { return strings.ToUpper(p.peek()) }

func (p *queryParser) parseOr() (expr.Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peekUpper() == "OR" {
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &expr.Or{Children: []expr.Node{left, right}}
	}
	return left, nil
}

// parseAnd folds together implicit-juxtaposition AND, explicit AND, and
// NOT at a single left-associative precedence level (§4.7's boolean
// operators share precedence, binding tighter than OR): "a NOT b AND c"
// parses as ((a NOT b) AND c).
func (p *queryParser) parseAnd() (expr.Node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		not := false
		switch {
		case p.peekUpper() == "AND":
			p.pos++
		case p.peekUpper() == "NOT":
			p.pos++
			not = true
		case !p.atBoundary():
			// implicit AND via juxtaposition, no token to consume
		default:
			return left, nil
		}
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		if not {
			left = &expr.Not{Left: left, Right: right}
		} else {
			left = &expr.And{Children: []expr.Node{left, right}}
		}
	}
}

// atBoundary reports whether the parser has hit a token that cannot
// start another operand (end of input, a close-paren, or a binary
// keyword), so parseAnd knows when to stop folding in implicit ANDs.
func (p *queryParser) atBoundary() bool {
	t := p.peekUpper()
	return t == "" || t == ")" || t == "OR"
}

func (p *queryParser) parsePrimary() (expr.Node, error) {
	t := p.peek()
	switch {
	case t == "":
		return nil, base.Misusef("fts5: unexpected end of query")
	case t == "(":
		p.pos++
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek() != ")" {
			return nil, base.Misusef("fts5: expected ')' in query")
		}
		p.pos++
		return node, nil
	case strings.EqualFold(t, "NEAR"):
		return p.parseNear()
	case strings.HasPrefix(t, `"`):
		p.pos++
		return p.phraseFromWords(splitWords(strings.Trim(t, `"`))), nil
	default:
		p.pos++
		return p.phraseFromWords([]string{t}), nil
	}
}

func splitWords(s string) []string {
	return strings.Fields(s)
}

func (p *queryParser) phraseFromWords(words []string) *expr.Phrase {
	terms := make([][]byte, len(words))
	for i, w := range words {
		terms[i] = []byte(w)
	}
	return &expr.Phrase{Terms: terms, Col: p.col, Source: p.src}
}

// parseNear handles `NEAR(word word ..., N)`; slop defaults to
// defaultNearSlop when the distance is omitted.
func (p *queryParser) parseNear() (expr.Node, error) {
	p.pos++ // consume NEAR
	if p.peek() != "(" {
		return nil, base.Misusef("fts5: expected '(' after NEAR")
	}
	p.pos++
	var words []string
	slop := defaultNearSlop
	for p.peek() != ")" {
		t := p.peek()
		if t == "" {
			return nil, base.Misusef("fts5: unterminated NEAR(")
		}
		if t == "," {
			p.pos++
			n, err := strconv.Atoi(p.peek())
			if err != nil {
				return nil, base.Misusef("fts5: invalid NEAR distance %q", p.peek())
			}
			slop = n
			p.pos++
			continue
		}
		words = append(words, strings.Trim(t, `"`))
		p.pos++
	}
	p.pos++ // consume ")"
	if len(words) < 2 {
		return nil, base.Misusef("fts5: NEAR requires at least two terms")
	}
	children := make([]*expr.Phrase, len(words))
	for i, w := range words {
		children[i] = p.phraseFromWords([]string{w})
	}
	return &expr.Near{Children: children, Slop: slop}, nil
}
