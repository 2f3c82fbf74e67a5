package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func scanAll(src string) (tokens []Token) {
	s := NewScanner(src)
	for {
		tk := s.ScanToken()
		tokens = append(tokens, tk)
		if tk.Type == TEOF {
			return
		}
	}
}

func scanTypes(src string) (types []TokenType) {
	for _, tk := range scanAll(src) {
		types = append(types, tk.Type)
	}
	return
}

func TestScanPunctAndOps(t *testing.T) {
	t.Parallel()
	assert.Equal(t,
		[]TokenType{
			TLParen, TRParen, TLBrace, TRBrace, TComma, TDot, TMinus, TPlus,
			TSemi, TSlash, TStar, TBang, TBangEqual, TEqual, TEqualEqual,
			TGreater, TGreaterEqual, TLess, TLessEqual, TEOF,
		},
		scanTypes("(){},.-+;/*! != = == > >= < <="))
}

func TestScanKeywords(t *testing.T) {
	t.Parallel()
	assert.Equal(t,
		[]TokenType{
			TAnd, TBreak, TClass, TContinue, TElse, TFalse, TFor, TFun, TIf,
			TNil, TOr, TPrint, TReturn, TSuper, TThis, TTrue, TVar, TWhile,
			TEOF,
		},
		scanTypes("and break class continue else false for fun if nil or print return super this true var while"))
}

func TestScanKeywordPrefixes(t *testing.T) {
	t.Parallel()
	// Sharing a prefix with a keyword is not enough.
	assert.Equal(t,
		[]TokenType{TIdent, TIdent, TIdent, TIdent, TIdent, TIdent, TEOF},
		scanTypes("classy form fund supper thistle an_d"))
}

func TestScanLiterals(t *testing.T) {
	t.Parallel()
	tokens := scanAll(`12 3.14 "hi there" foo _bar9`)
	assert.Equal(t,
		[]TokenType{TNum, TNum, TStr, TIdent, TIdent, TEOF},
		scanTypes(`12 3.14 "hi there" foo _bar9`))
	assert.Equal(t, "12", tokens[0].String())
	assert.Equal(t, "3.14", tokens[1].String())
	assert.Equal(t, `"hi there"`, tokens[2].String())
	assert.Equal(t, "_bar9", tokens[4].String())
}

func TestScanNumberNoTrailingDot(t *testing.T) {
	t.Parallel()
	// `1.` is a number followed by a dot, not a malformed literal.
	assert.Equal(t, []TokenType{TNum, TDot, TEOF}, scanTypes("1."))
	assert.Equal(t, []TokenType{TDot, TNum, TEOF}, scanTypes(".5"))
}

func TestScanCommentsAndLines(t *testing.T) {
	t.Parallel()
	tokens := scanAll("one // a comment\ntwo\n\"a\nb\"\nthree")
	assert.Equal(t, []TokenType{TIdent, TIdent, TStr, TIdent, TEOF}, scanTypes("one // a comment\ntwo\n\"a\nb\"\nthree"))
	assert.Equal(t, 1, tokens[0].Line)
	assert.Equal(t, 2, tokens[1].Line)
	// Strings may span lines; the token carries the closing line.
	assert.Equal(t, 4, tokens[2].Line)
	assert.Equal(t, 5, tokens[3].Line)
}

func TestScanErrors(t *testing.T) {
	t.Parallel()
	tokens := scanAll(`"never closed`)
	assert.Equal(t, TErr, tokens[0].Type)
	assert.Equal(t, "Unterminated string.", tokens[0].String())

	tokens = scanAll("@")
	assert.Equal(t, TErr, tokens[0].Type)
	assert.Equal(t, "Unexpected character.", tokens[0].String())
}
