// Package query turns simple filter strings into predicates over OSM ways. The language
// supports tag comparisons (building=yes, building!=yes), key existence checks (building),
// the '*' wildcard as value, negation with '!', conjunction with '&', disjunction with '|'
// and parentheses. '&' binds stronger than '|'.
package query

import (
	"strings"

	"github.com/hauke96/sigolo/v2"
	"github.com/pkg/errors"

	"github.com/substack/osmpbf/element"
)

// Wildcard matches any tag value when used on the right side of '='.
const Wildcard = "*"

type BinaryOperator int

const (
	BinOpEqual BinaryOperator = iota
	BinOpNotEqual
)

func (o BinaryOperator) string() string {
	if o == BinOpNotEqual {
		return "!="
	}
	return "="
}

type LogicalOperator int

const (
	LogicOpAnd LogicalOperator = iota
	LogicOpOr
)

// FilterExpression decides whether a way is part of the query result.
type FilterExpression interface {
	Applies(way *element.Way) bool
	Print(indent int)
}

type NegatedFilterExpression struct {
	baseExpression FilterExpression
}

func NewNegatedFilterExpression(baseExpression FilterExpression) *NegatedFilterExpression {
	return &NegatedFilterExpression{baseExpression: baseExpression}
}

func (f *NegatedFilterExpression) Applies(way *element.Way) bool {
	return !f.baseExpression.Applies(way)
}

func (f *NegatedFilterExpression) Print(indent int) {
	sigolo.Debugf("%sNOT", spacing(indent))
	f.baseExpression.Print(indent + 2)
}

type LogicalFilterExpression struct {
	statementA FilterExpression
	statementB FilterExpression
	operator   LogicalOperator
}

func NewLogicalFilterExpression(statementA FilterExpression, statementB FilterExpression, operator LogicalOperator) *LogicalFilterExpression {
	return &LogicalFilterExpression{
		statementA: statementA,
		statementB: statementB,
		operator:   operator,
	}
}

func (f *LogicalFilterExpression) Applies(way *element.Way) bool {
	if f.operator == LogicOpOr {
		return f.statementA.Applies(way) || f.statementB.Applies(way)
	}
	return f.statementA.Applies(way) && f.statementB.Applies(way)
}

func (f *LogicalFilterExpression) Print(indent int) {
	operatorName := "AND"
	if f.operator == LogicOpOr {
		operatorName = "OR"
	}
	sigolo.Debugf("%sLogicalFilter:", spacing(indent))
	f.statementA.Print(indent + 2)
	sigolo.Debugf("%s%s", spacing(indent), operatorName)
	f.statementB.Print(indent + 2)
}

type TagFilterExpression struct {
	key      string
	value    string
	operator BinaryOperator
}

func NewTagFilterExpression(key string, value string, operator BinaryOperator) *TagFilterExpression {
	return &TagFilterExpression{
		key:      key,
		value:    value,
		operator: operator,
	}
}

func (f *TagFilterExpression) Applies(way *element.Way) bool {
	if !hasKey(way, f.key) {
		// A way without the key neither equals nor not-equals any value of it
		return false
	}

	if f.value == Wildcard {
		return f.operator == BinOpEqual
	}

	if f.operator == BinOpNotEqual {
		return !way.HasTag(f.key, f.value)
	}
	return way.HasTag(f.key, f.value)
}

func (f *TagFilterExpression) Print(indent int) {
	sigolo.Debugf("%sTagFilter: %s%s%s", spacing(indent), f.key, f.operator.string(), f.value)
}

type KeyFilterExpression struct {
	key string
}

func NewKeyFilterExpression(key string) *KeyFilterExpression {
	return &KeyFilterExpression{key: key}
}

func (f *KeyFilterExpression) Applies(way *element.Way) bool {
	return hasKey(way, f.key)
}

func (f *KeyFilterExpression) Print(indent int) {
	sigolo.Debugf("%sKeyFilter: %s", spacing(indent), f.key)
}

func hasKey(way *element.Way, key string) bool {
	for i := 0; i < way.TagCount(); i++ {
		k, _ := way.Tag(i)
		if k == key {
			return true
		}
	}
	return false
}

func spacing(indent int) string {
	return strings.Repeat(" ", indent)
}

// ParseFilter parses the given filter string into a filter expression.
func ParseFilter(input string) (FilterExpression, error) {
	tokens, err := (&lexer{input: []rune(input)}).read()
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, errors.New("The filter string contains no expression")
	}

	p := &parser{tokens: tokens}
	expression, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if p.index < len(p.tokens) {
		token := p.tokens[p.index]
		return nil, errors.Errorf("Unexpected token '%s' at position %d after the end of the expression", token.lexeme, token.startPosition)
	}

	return expression, nil
}

type parser struct {
	tokens []*Token
	index  int
}

func (p *parser) peekKind() (TokenKind, bool) {
	if p.index >= len(p.tokens) {
		return 0, false
	}
	return p.tokens[p.index].kind, true
}

func (p *parser) next() (*Token, error) {
	if p.index >= len(p.tokens) {
		return nil, errors.New("Unexpected end of the filter string")
	}
	token := p.tokens[p.index]
	p.index++
	return token, nil
}

// parseExpression handles the '|' level, the weakest binding operator.
func (p *parser) parseExpression() (FilterExpression, error) {
	expression, err := p.parseConjunction()
	if err != nil {
		return nil, err
	}

	for {
		kind, ok := p.peekKind()
		if !ok || kind != TokenKindOperatorOr {
			return expression, nil
		}
		p.index++

		right, err := p.parseConjunction()
		if err != nil {
			return nil, err
		}
		expression = NewLogicalFilterExpression(expression, right, LogicOpOr)
	}
}

func (p *parser) parseConjunction() (FilterExpression, error) {
	expression, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		kind, ok := p.peekKind()
		if !ok || kind != TokenKindOperatorAnd {
			return expression, nil
		}
		p.index++

		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		expression = NewLogicalFilterExpression(expression, right, LogicOpAnd)
	}
}

func (p *parser) parseUnary() (FilterExpression, error) {
	kind, ok := p.peekKind()
	if ok && kind == TokenKindOperatorNot {
		p.index++
		expression, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return NewNegatedFilterExpression(expression), nil
	}

	return p.parsePrimary()
}

func (p *parser) parsePrimary() (FilterExpression, error) {
	token, err := p.next()
	if err != nil {
		return nil, err
	}

	if token.kind == TokenKindOpeningParenthesis {
		expression, err := p.parseExpression()
		if err != nil {
			return nil, err
		}

		closing, err := p.next()
		if err != nil {
			return nil, err
		}
		if closing.kind != TokenKindClosingParenthesis {
			return nil, errors.Errorf("Expected ')' but found '%s' at position %d", closing.lexeme, closing.startPosition)
		}
		return expression, nil
	}

	if token.kind != TokenKindKeyword {
		return nil, errors.Errorf("Expected a tag key but found '%s' at position %d", token.lexeme, token.startPosition)
	}
	key := token.lexeme

	kind, ok := p.peekKind()
	if !ok || (kind != TokenKindOperatorEqual && kind != TokenKindOperatorNotEqual) {
		// A bare key means "the key has to be present"
		return NewKeyFilterExpression(key), nil
	}

	operatorToken, _ := p.next()
	operator := BinOpEqual
	if operatorToken.kind == TokenKindOperatorNotEqual {
		operator = BinOpNotEqual
	}

	valueToken, err := p.next()
	if err != nil {
		return nil, err
	}
	if valueToken.kind != TokenKindKeyword {
		return nil, errors.Errorf("Expected a tag value but found '%s' at position %d", valueToken.lexeme, valueToken.startPosition)
	}

	return NewTagFilterExpression(key, valueToken.lexeme, operator), nil
}
