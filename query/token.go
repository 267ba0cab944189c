package query

type TokenKind int

const (
	TokenKindKeyword TokenKind = iota
	TokenKindOperatorEqual
	TokenKindOperatorNotEqual
	TokenKindOperatorNot
	TokenKindOperatorAnd
	TokenKindOperatorOr
	TokenKindOpeningParenthesis
	TokenKindClosingParenthesis
)

func (k TokenKind) String() string {
	switch k {
	case TokenKindKeyword:
		return "keyword"
	case TokenKindOperatorEqual:
		return "="
	case TokenKindOperatorNotEqual:
		return "!="
	case TokenKindOperatorNot:
		return "!"
	case TokenKindOperatorAnd:
		return "&"
	case TokenKindOperatorOr:
		return "|"
	case TokenKindOpeningParenthesis:
		return "("
	case TokenKindClosingParenthesis:
		return ")"
	}
	return "unknown"
}

type Token struct {
	kind          TokenKind
	lexeme        string
	startPosition int
}
