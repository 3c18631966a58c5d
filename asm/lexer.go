package asm

import (
	"fmt"
	"io"
	"strconv"
	"text/scanner"
	"unicode"
)

type tokKind int

const (
	tokWord tokKind = iota
	tokString
	tokComma
	tokLBrace
	tokRBrace
)

type token struct {
	kind tokKind
	text string
	pos  scanner.Position
}

func (t token) String() string {
	if t.kind == tokString {
		return strconv.Quote(t.text)
	}
	return t.text
}

// line is the tokens of one source line. Lines without tokens are dropped.
type line struct {
	pos  scanner.Position
	toks []token
}

func (l line) head() string { return l.toks[0].text }

// Words run until whitespace or punctuation, so descriptors like
// "LA;->m(I)V" and mnemonics like "add-int/2addr" lex as one token.
func isIdentRune(ch rune, _ int) bool {
	if ch < 0 || unicode.IsSpace(ch) {
		return false
	}
	switch ch {
	case ',', '{', '}', '"', '#':
		return false
	}
	return true
}

func scanError(pos scanner.Position, format string, args ...any) error {
	return fmt.Errorf("%s: %s", pos, fmt.Sprintf(format, args...))
}

// lex splits src into lines of tokens. '#' starts a comment running to the
// end of the line.
func lex(name string, r io.Reader) ([]line, error) {
	var (
		s     scanner.Scanner
		err   error
		lines []line
		cur   line
	)
	s.Init(r)
	s.Filename = name
	s.Mode = scanner.ScanIdents | scanner.ScanStrings
	s.Whitespace = scanner.GoWhitespace &^ (1 << '\n')
	s.IsIdentRune = isIdentRune
	s.Error = func(s *scanner.Scanner, msg string) {
		if err == nil {
			err = scanError(s.Position, "%s", msg)
		}
	}
	flush := func() {
		if len(cur.toks) > 0 {
			lines = append(lines, cur)
		}
		cur = line{}
	}
	for tok := s.Scan(); tok != scanner.EOF && err == nil; tok = s.Scan() {
		pos := s.Position
		var t token
		switch tok {
		case '\n':
			flush()
			continue
		case '#':
			for ch := s.Peek(); ch != '\n' && ch != scanner.EOF; ch = s.Peek() {
				s.Next()
			}
			continue
		case scanner.Ident:
			t = token{kind: tokWord, text: s.TokenText(), pos: pos}
		case scanner.String:
			text, uerr := strconv.Unquote(s.TokenText())
			if uerr != nil {
				return nil, scanError(pos, "bad string literal %s", s.TokenText())
			}
			t = token{kind: tokString, text: text, pos: pos}
		case ',':
			t = token{kind: tokComma, text: ",", pos: pos}
		case '{':
			t = token{kind: tokLBrace, text: "{", pos: pos}
		case '}':
			t = token{kind: tokRBrace, text: "}", pos: pos}
		default:
			return nil, scanError(pos, "unexpected character %s", strconv.QuoteRune(tok))
		}
		if len(cur.toks) == 0 {
			cur.pos = pos
		}
		cur.toks = append(cur.toks, t)
	}
	if err != nil {
		return nil, err
	}
	flush()
	return lines, nil
}
