package condition

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Options tells the parser which identifiers exist.
type Options struct {
	// Fields are the recognized sensor kinds. When empty any identifier
	// that is not a threshold is accepted as a field.
	Fields []string
	// Thresholds are the configured threshold constants, by name.
	Thresholds map[string]float64
}

func (o Options) classify(name string) (Operand, error) {
	if _, ok := o.Thresholds[name]; ok {
		return Threshold(name), nil
	}
	if len(o.Fields) == 0 {
		return Field(name), nil
	}
	for _, f := range o.Fields {
		if f == name {
			return Field(name), nil
		}
	}
	return Operand{}, fmt.Errorf("unknown identifier %q", name)
}

// SyntaxError reports where parsing stopped.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("condition: %s at offset %d", e.Msg, e.Pos)
}

// ErrEmpty is returned for a blank condition.
var ErrEmpty = errors.New("condition: empty expression")

// Parse compiles an expression such as
//
//	temperature > max_temperature and (pressure < 1 or pressure > max_pressure)
//
// Keywords and, or, not are case insensitive; &&, || and ! are accepted too.
func Parse(src string, opts Options) (Node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	if len(toks) == 1 {
		return nil, ErrEmpty
	}
	p := &parser{toks: toks, opts: opts}
	n, err := p.or()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tEOF {
		return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %q", t.text)}
	}
	return n, nil
}

// MustParse is Parse for conditions known at compile time.
func MustParse(src string, opts Options) Node {
	n, err := Parse(src, opts)
	if err != nil {
		panic(err)
	}
	return n
}

type tokenKind int

const (
	tEOF tokenKind = iota
	tIdent
	tNumber
	tOp
	tAnd
	tOr
	tNot
	tLParen
	tRParen
	tMinus
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func lex(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{tLParen, "(", i})
			i++
		case r == ')':
			toks = append(toks, token{tRParen, ")", i})
			i++
		case r == '-':
			toks = append(toks, token{tMinus, "-", i})
			i++
		case r == '&' || r == '|':
			if i+1 >= len(rs) || rs[i+1] != r {
				return nil, &SyntaxError{Pos: i, Msg: fmt.Sprintf("expected %c%c", r, r)}
			}
			kind := tAnd
			if r == '|' {
				kind = tOr
			}
			toks = append(toks, token{kind, string([]rune{r, r}), i})
			i += 2
		case strings.ContainsRune("<>=!", r):
			start := i
			i++
			if i < len(rs) && (rs[i] == '=' || (r == '<' && rs[i] == '>')) {
				i++
			}
			text := string(rs[start:i])
			if text == "!" {
				toks = append(toks, token{tNot, text, start})
				continue
			}
			toks = append(toks, token{tOp, text, start})
		case unicode.IsDigit(r) || r == '.':
			start := i
			for i < len(rs) && (unicode.IsDigit(rs[i]) || rs[i] == '.' || rs[i] == 'e' || rs[i] == 'E' ||
				((rs[i] == '+' || rs[i] == '-') && (rs[i-1] == 'e' || rs[i-1] == 'E'))) {
				i++
			}
			toks = append(toks, token{tNumber, string(rs[start:i]), start})
		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(rs) && (rs[i] == '_' || rs[i] == '.' || unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i])) {
				i++
			}
			text := string(rs[start:i])
			switch strings.ToLower(text) {
			case "and":
				toks = append(toks, token{tAnd, text, start})
			case "or":
				toks = append(toks, token{tOr, text, start})
			case "not":
				toks = append(toks, token{tNot, text, start})
			default:
				toks = append(toks, token{tIdent, text, start})
			}
		default:
			return nil, &SyntaxError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", r)}
		}
	}
	return append(toks, token{kind: tEOF, pos: len(rs)}), nil
}

type parser struct {
	toks []token
	i    int
	opts Options
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tEOF {
		p.i++
	}
	return t
}

func (p *parser) or() (Node, error) {
	first, err := p.and()
	if err != nil {
		return nil, err
	}
	terms := []Node{first}
	for p.peek().kind == tOr {
		p.next()
		n, err := p.and()
		if err != nil {
			return nil, err
		}
		terms = append(terms, n)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return &Or{Terms: terms}, nil
}

func (p *parser) and() (Node, error) {
	first, err := p.unary()
	if err != nil {
		return nil, err
	}
	terms := []Node{first}
	for p.peek().kind == tAnd {
		p.next()
		n, err := p.unary()
		if err != nil {
			return nil, err
		}
		terms = append(terms, n)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return &And{Terms: terms}, nil
}

func (p *parser) unary() (Node, error) {
	if p.peek().kind == tNot {
		p.next()
		n, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &Not{Term: n}, nil
	}
	if p.peek().kind == tLParen {
		open := p.next()
		n, err := p.or()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tRParen {
			return nil, &SyntaxError{Pos: open.pos, Msg: "unbalanced parenthesis"}
		}
		return n, nil
	}
	return p.comparison()
}

func (p *parser) comparison() (Node, error) {
	left, err := p.operand()
	if err != nil {
		return nil, err
	}
	t := p.next()
	if t.kind != tOp {
		return nil, &SyntaxError{Pos: t.pos, Msg: "expected comparison operator"}
	}
	op, err := ParseOp(t.text)
	if err != nil {
		return nil, &SyntaxError{Pos: t.pos, Msg: err.Error()}
	}
	right, err := p.operand()
	if err != nil {
		return nil, err
	}
	return newComparison(left, op, right, t.pos)
}

func (p *parser) operand() (Operand, error) {
	t := p.next()
	switch t.kind {
	case tMinus:
		n := p.next()
		if n.kind != tNumber {
			return Operand{}, &SyntaxError{Pos: t.pos, Msg: "expected number after '-'"}
		}
		v, err := strconv.ParseFloat(n.text, 64)
		if err != nil {
			return Operand{}, &SyntaxError{Pos: n.pos, Msg: fmt.Sprintf("bad number %q", n.text)}
		}
		return Literal(-v), nil
	case tNumber:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return Operand{}, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("bad number %q", t.text)}
		}
		return Literal(v), nil
	case tIdent:
		o, err := p.opts.classify(t.text)
		if err != nil {
			return Operand{}, &SyntaxError{Pos: t.pos, Msg: err.Error()}
		}
		return o, nil
	case tEOF:
		return Operand{}, &SyntaxError{Pos: t.pos, Msg: "unexpected end of expression"}
	}
	return Operand{}, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("expected operand, got %q", t.text)}
}

func newComparison(left Operand, op Op, right Operand, pos int) (*Comparison, error) {
	if left.Kind != KindField && right.Kind != KindField {
		return nil, &SyntaxError{Pos: pos, Msg: "comparison must reference a sensor"}
	}
	return &Comparison{Left: left, Op: op, Right: right}, nil
}
