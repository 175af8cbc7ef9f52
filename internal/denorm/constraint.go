package denorm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agentic-research/kgclose/internal/table"
)

// Predicate is a compiled node-filter constraint, evaluated per row of the
// denormalized edge table. The grammar is the SQL-ish subset callers of
// the historical pipeline actually wrote:
//
//	expr     := or
//	or       := and { OR and }
//	and      := unary { AND unary }
//	unary    := NOT unary | '(' expr ')' | comparison
//	compare  := operand ( op operand | IS [NOT] NULL )
//	op       := = | != | <> | < | <= | > | >=
//	operand  := column | 'string' | number | true | false | null
//
// Evaluation follows join-miss discipline: a column absent from the row
// reads as null, null operands make comparisons unknown, and a row passes
// only when the whole expression is definitely true.
type Predicate struct {
	src  string
	root cexpr
}

// CompileConstraint parses a constraint string. An empty string returns a
// nil predicate (no filtering). A malformed string is a configuration
// error and fails the run before any table is touched.
func CompileConstraint(src string) (*Predicate, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil
	}
	toks, err := lexConstraint(src)
	if err != nil {
		return nil, err
	}
	p := &constraintParser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("constraint: unexpected %q at offset %d", tok.text, tok.pos)
	}
	return &Predicate{src: src, root: root}, nil
}

// String returns the original constraint text.
func (p *Predicate) String() string { return p.src }

// Eval reports whether the row satisfies the constraint.
func (p *Predicate) Eval(t *table.Table, row int) bool {
	return p.root.eval(t, row) == triTrue
}

// ---- three-valued logic ----

type tri int8

const (
	triFalse tri = iota
	triTrue
	triUnknown
)

func triNot(v tri) tri {
	switch v {
	case triTrue:
		return triFalse
	case triFalse:
		return triTrue
	}
	return triUnknown
}

func triAnd(a, b tri) tri {
	if a == triFalse || b == triFalse {
		return triFalse
	}
	if a == triTrue && b == triTrue {
		return triTrue
	}
	return triUnknown
}

func triOr(a, b tri) tri {
	if a == triTrue || b == triTrue {
		return triTrue
	}
	if a == triFalse && b == triFalse {
		return triFalse
	}
	return triUnknown
}

// ---- expression tree ----

type cexpr interface {
	eval(t *table.Table, row int) tri
}

type cval struct {
	kind cvalKind
	s    string
	f    float64
	b    bool
}

type cvalKind uint8

const (
	cvNull cvalKind = iota
	cvStr
	cvNum
	cvBool
)

type operand interface {
	value(t *table.Table, row int) cval
}

type colRef struct{ name string }

func (c colRef) value(t *table.Table, row int) cval {
	v, ok := t.Value(row, c.name)
	if !ok || v.IsNull() {
		return cval{kind: cvNull}
	}
	switch v.Kind {
	case table.String:
		return cval{kind: cvStr, s: v.Str}
	case table.Int:
		return cval{kind: cvNum, f: float64(v.Int)}
	case table.Bool:
		return cval{kind: cvBool, b: v.Bool}
	}
	// Lists have no comparison semantics.
	return cval{kind: cvNull}
}

type litVal struct{ v cval }

func (l litVal) value(*table.Table, int) cval { return l.v }

type compareExpr struct {
	op  string
	lhs operand
	rhs operand
}

func (e compareExpr) eval(t *table.Table, row int) tri {
	a, b := e.lhs.value(t, row), e.rhs.value(t, row)
	if a.kind == cvNull || b.kind == cvNull {
		return triUnknown
	}
	if a.kind != b.kind {
		return triUnknown
	}
	var cmp int
	switch a.kind {
	case cvStr:
		cmp = strings.Compare(a.s, b.s)
	case cvNum:
		switch {
		case a.f < b.f:
			cmp = -1
		case a.f > b.f:
			cmp = 1
		}
	case cvBool:
		if e.op != "=" && e.op != "!=" && e.op != "<>" {
			return triUnknown
		}
		if a.b == b.b {
			cmp = 0
		} else {
			cmp = 1
		}
	}
	var ok bool
	switch e.op {
	case "=":
		ok = cmp == 0
	case "!=", "<>":
		ok = cmp != 0
	case "<":
		ok = cmp < 0
	case "<=":
		ok = cmp <= 0
	case ">":
		ok = cmp > 0
	case ">=":
		ok = cmp >= 0
	}
	if ok {
		return triTrue
	}
	return triFalse
}

type nullTestExpr struct {
	of     operand
	negate bool
}

func (e nullTestExpr) eval(t *table.Table, row int) tri {
	isNull := e.of.value(t, row).kind == cvNull
	if e.negate {
		isNull = !isNull
	}
	if isNull {
		return triTrue
	}
	return triFalse
}

type logicExpr struct {
	or       bool
	lhs, rhs cexpr
}

func (e logicExpr) eval(t *table.Table, row int) tri {
	if e.or {
		return triOr(e.lhs.eval(t, row), e.rhs.eval(t, row))
	}
	return triAnd(e.lhs.eval(t, row), e.rhs.eval(t, row))
}

type notExpr struct{ child cexpr }

func (e notExpr) eval(t *table.Table, row int) tri {
	return triNot(e.child.eval(t, row))
}

// ---- lexer ----

type tokKind uint8

const (
	tokEOF tokKind = iota
	tokIdent
	tokString
	tokNumber
	tokOp
	tokLParen
	tokRParen
)

type ctoken struct {
	kind tokKind
	text string
	num  float64
	pos  int
}

func lexConstraint(src string) ([]ctoken, error) {
	var toks []ctoken
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, ctoken{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, ctoken{kind: tokRParen, text: ")", pos: i})
			i++
		case c == '=':
			toks = append(toks, ctoken{kind: tokOp, text: "=", pos: i})
			i++
		case c == '!':
			if i+1 >= len(src) || src[i+1] != '=' {
				return nil, fmt.Errorf("constraint: stray '!' at offset %d", i)
			}
			toks = append(toks, ctoken{kind: tokOp, text: "!=", pos: i})
			i += 2
		case c == '<':
			switch {
			case i+1 < len(src) && src[i+1] == '=':
				toks = append(toks, ctoken{kind: tokOp, text: "<=", pos: i})
				i += 2
			case i+1 < len(src) && src[i+1] == '>':
				toks = append(toks, ctoken{kind: tokOp, text: "<>", pos: i})
				i += 2
			default:
				toks = append(toks, ctoken{kind: tokOp, text: "<", pos: i})
				i++
			}
		case c == '>':
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, ctoken{kind: tokOp, text: ">=", pos: i})
				i += 2
			} else {
				toks = append(toks, ctoken{kind: tokOp, text: ">", pos: i})
				i++
			}
		case c == '\'':
			start := i
			i++
			var sb strings.Builder
			closed := false
			for i < len(src) {
				if src[i] == '\'' {
					// '' escapes a literal quote.
					if i+1 < len(src) && src[i+1] == '\'' {
						sb.WriteByte('\'')
						i += 2
						continue
					}
					closed = true
					i++
					break
				}
				sb.WriteByte(src[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("constraint: unterminated string at offset %d", start)
			}
			toks = append(toks, ctoken{kind: tokString, text: sb.String(), pos: start})
		case c >= '0' && c <= '9' || c == '-' && i+1 < len(src) && src[i+1] >= '0' && src[i+1] <= '9':
			start := i
			i++
			for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.') {
				i++
			}
			f, err := strconv.ParseFloat(src[start:i], 64)
			if err != nil {
				return nil, fmt.Errorf("constraint: bad number %q at offset %d", src[start:i], start)
			}
			toks = append(toks, ctoken{kind: tokNumber, text: src[start:i], num: f, pos: start})
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			toks = append(toks, ctoken{kind: tokIdent, text: src[start:i], pos: start})
		default:
			return nil, fmt.Errorf("constraint: unexpected character %q at offset %d", c, i)
		}
	}
	toks = append(toks, ctoken{kind: tokEOF, pos: len(src)})
	return toks, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

// ---- parser ----

type constraintParser struct {
	toks []ctoken
	i    int
}

func (p *constraintParser) peek() ctoken { return p.toks[p.i] }

func (p *constraintParser) next() ctoken {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *constraintParser) keyword(kw string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, kw) {
		p.next()
		return true
	}
	return false
}

func (p *constraintParser) parseOr() (cexpr, error) {
	lhs, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("or") {
		rhs, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lhs = logicExpr{or: true, lhs: lhs, rhs: rhs}
	}
	return lhs, nil
}

func (p *constraintParser) parseAnd() (cexpr, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.keyword("and") {
		rhs, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		lhs = logicExpr{lhs: lhs, rhs: rhs}
	}
	return lhs, nil
}

func (p *constraintParser) parseUnary() (cexpr, error) {
	if p.keyword("not") {
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notExpr{child: child}, nil
	}
	if p.peek().kind == tokLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("constraint: missing ')' at offset %d", p.peek().pos)
		}
		p.next()
		return inner, nil
	}
	return p.parseComparison()
}

func (p *constraintParser) parseComparison() (cexpr, error) {
	lhs, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if p.keyword("is") {
		negate := p.keyword("not")
		if !p.keyword("null") {
			return nil, fmt.Errorf("constraint: expected NULL after IS at offset %d", p.peek().pos)
		}
		return nullTestExpr{of: lhs, negate: negate}, nil
	}
	t := p.peek()
	if t.kind != tokOp {
		return nil, fmt.Errorf("constraint: expected comparison operator at offset %d", t.pos)
	}
	p.next()
	rhs, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return compareExpr{op: t.text, lhs: lhs, rhs: rhs}, nil
}

func (p *constraintParser) parseOperand() (operand, error) {
	t := p.peek()
	switch t.kind {
	case tokString:
		p.next()
		return litVal{v: cval{kind: cvStr, s: t.text}}, nil
	case tokNumber:
		p.next()
		return litVal{v: cval{kind: cvNum, f: t.num}}, nil
	case tokIdent:
		p.next()
		switch {
		case strings.EqualFold(t.text, "true"):
			return litVal{v: cval{kind: cvBool, b: true}}, nil
		case strings.EqualFold(t.text, "false"):
			return litVal{v: cval{kind: cvBool, b: false}}, nil
		case strings.EqualFold(t.text, "null"):
			return litVal{v: cval{kind: cvNull}}, nil
		}
		return colRef{name: t.text}, nil
	}
	return nil, fmt.Errorf("constraint: expected column or literal at offset %d", t.pos)
}
