package query

import (
	"unicode"

	"github.com/hauke96/sigolo/v2"
	"github.com/pkg/errors"
)

type lexer struct {
	input []rune
	index int // Position in input.
}

// char returns the rune at the current location or the number 0 if there is no next char.
func (l *lexer) char() rune {
	if l.index >= len(l.input) {
		return 0
	}
	return l.input[l.index]
}

// nextChar returns the next rune, so the one after the rune char() returns, or the number 0 if
// there is no next char.
func (l *lexer) nextChar() rune {
	if l.index+1 >= len(l.input) {
		return 0
	}
	return l.input[l.index+1]
}

func (l *lexer) read() ([]*Token, error) {
	var tokens []*Token
	for l.index < len(l.input) {
		token, err := l.nextToken()
		if err != nil {
			return nil, err
		}
		if token == nil {
			break
		}
		sigolo.Tracef("Found token kind=%s, pos=%d, lexeme=\"%s\"", token.kind, token.startPosition, token.lexeme)
		tokens = append(tokens, token)
	}
	return tokens, nil
}

func (l *lexer) nextToken() (*Token, error) {
	for ; l.index < len(l.input); l.index++ {
		char := l.char()

		// Ignore whitespace between tokens
		if unicode.IsSpace(char) {
			continue
		}

		switch char {
		case '(':
			return l.currentSingleCharToken(TokenKindOpeningParenthesis), nil
		case ')':
			return l.currentSingleCharToken(TokenKindClosingParenthesis), nil
		case '&':
			return l.currentSingleCharToken(TokenKindOperatorAnd), nil
		case '|':
			return l.currentSingleCharToken(TokenKindOperatorOr), nil
		case '=':
			return l.currentSingleCharToken(TokenKindOperatorEqual), nil
		case '!':
			if l.nextChar() == '=' {
				token := &Token{kind: TokenKindOperatorNotEqual, lexeme: "!=", startPosition: l.index}
				l.index += 2
				return token, nil
			}
			return l.currentSingleCharToken(TokenKindOperatorNot), nil
		}

		if isKeywordChar(char) {
			return l.currentKeyword(), nil
		}

		return nil, errors.Errorf("Unexpected character '%c' at position %d", char, l.index)
	}

	return nil, nil
}

func (l *lexer) currentSingleCharToken(kind TokenKind) *Token {
	token := &Token{
		kind:          kind,
		lexeme:        string(l.char()),
		startPosition: l.index,
	}
	l.index++
	return token
}

func (l *lexer) currentKeyword() *Token {
	startPosition := l.index
	for l.index < len(l.input) && isKeywordChar(l.char()) {
		l.index++
	}
	return &Token{
		kind:          TokenKindKeyword,
		lexeme:        string(l.input[startPosition:l.index]),
		startPosition: startPosition,
	}
}

// isKeywordChar covers everything that can appear in OSM tag keys and values, including the
// '*' wildcard. Operators, parentheses and whitespace end a keyword.
func isKeywordChar(char rune) bool {
	if unicode.IsLetter(char) || unicode.IsDigit(char) {
		return true
	}
	switch char {
	case '_', ':', '@', '-', '.', '*', '#':
		return true
	}
	return false
}
