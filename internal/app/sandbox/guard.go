package sandbox

import (
	"strings"
	"unicode"
)

var allowedLeading = map[string]bool{
	"SELECT": true,
	"WITH":   true,
	"VALUES": true,
	"TABLE":  true,
}

// Keywords that can smuggle a write or a session change into an otherwise read-only statement.
// Participants can still use these words as identifiers by quoting them.
var forbiddenKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true,
	"DROP": true, "CREATE": true, "ALTER": true, "TRUNCATE": true,
	"GRANT": true, "REVOKE": true, "COPY": true, "CALL": true, "DO": true,
	"EXECUTE": true, "PREPARE": true, "LOCK": true, "VACUUM": true,
	"SET": true, "RESET": true, "LISTEN": true, "NOTIFY": true,
	"BEGIN": true, "COMMIT": true, "ROLLBACK": true, "INTO": true,
}

var forbiddenFunctions = map[string]bool{
	"pg_read_file": true, "pg_read_binary_file": true, "pg_ls_dir": true, "pg_stat_file": true,
	"pg_terminate_backend": true, "pg_cancel_backend": true, "pg_reload_conf": true,
	"pg_rotate_logfile": true, "set_config": true, "dblink": true, "dblink_exec": true,
	"query_to_xml": true, "query_to_xml_and_xmlschema": true, "cursor_to_xml": true,
	"txid_current": true, "pg_current_xact_id": true, "nextval": true, "setval": true,
}

var forbiddenFunctionPrefixes = []string{"lo_", "pg_advisory", "pg_try_advisory", "pg_ls_", "dblink_"}

// Catalog views that expose other sessions or server configuration.
var forbiddenRelations = map[string]bool{
	"pg_locks": true, "pg_prepared_xacts": true, "pg_prepared_statements": true, "pg_cursors": true,
	"pg_settings": true, "pg_file_settings": true, "pg_hba_file_rules": true,
	"pg_roles": true, "pg_user": true, "pg_shadow": true, "pg_authid": true,
}

var forbiddenRelationPrefixes = []string{"pg_stat"}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokQuotedIdent
	tokLiteral
	tokSemicolon
	tokLParen
	tokOther
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// Guard rejects anything that is not a single read-only query before it reaches the database.
// It is an allow-list over a token stream; comments, string literals and quoted identifiers never
// count as keywords.
func Guard(query string) error {
	tokens, err := tokenize(query)
	if err != nil {
		return err
	}

	// a single trailing semicolon is tolerated
	if n := len(tokens); n > 0 && tokens[n-1].kind == tokSemicolon {
		tokens = tokens[:n-1]
	}
	if len(tokens) == 0 {
		return newRunnerError(KindSyntaxError, "query is empty")
	}

	first := -1
	for i, t := range tokens {
		if t.kind == tokLParen {
			continue
		}
		first = i
		break
	}
	if first < 0 || tokens[first].kind != tokWord || !allowedLeading[tokens[first].text] {
		return newRunnerError(KindForbidden, "only SELECT, WITH, VALUES or TABLE statements are allowed")
	}

	for i, t := range tokens {
		switch t.kind {
		case tokSemicolon:
			return newRunnerError(KindForbidden, "multiple statements are not allowed")
		case tokWord:
			if forbiddenKeywords[t.text] {
				return newRunnerError(KindForbidden, "%s is not allowed (position %d)", t.text, t.pos+1)
			}
		}
		if (t.kind == tokWord || t.kind == tokQuotedIdent) && isForbiddenRelation(strings.ToLower(t.text)) {
			return newRunnerError(KindForbidden, "%s is not readable", strings.ToLower(t.text))
		}
		if (t.kind == tokWord || t.kind == tokQuotedIdent) && i+1 < len(tokens) && tokens[i+1].kind == tokLParen {
			if isForbiddenFunction(strings.ToLower(t.text)) {
				return newRunnerError(KindForbidden, "function %s is not allowed", strings.ToLower(t.text))
			}
		}
	}
	return nil
}

func isForbiddenFunction(name string) bool {
	if forbiddenFunctions[name] {
		return true
	}
	for _, p := range forbiddenFunctionPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func isForbiddenRelation(name string) bool {
	if forbiddenRelations[name] {
		return true
	}
	for _, p := range forbiddenRelationPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func tokenize(src string) ([]token, error) {
	var tokens []token
	rs := []rune(src)
	n := len(rs)

	for i := 0; i < n; {
		c := rs[i]
		switch {
		case unicode.IsSpace(c):
			i++

		case c == '-' && i+1 < n && rs[i+1] == '-':
			for i < n && rs[i] != '\n' {
				i++
			}

		case c == '/' && i+1 < n && rs[i+1] == '*':
			// block comments nest
			depth := 1
			i += 2
			for i < n && depth > 0 {
				switch {
				case rs[i] == '/' && i+1 < n && rs[i+1] == '*':
					depth++
					i += 2
				case rs[i] == '*' && i+1 < n && rs[i+1] == '/':
					depth--
					i += 2
				default:
					i++
				}
			}
			if depth > 0 {
				return nil, newRunnerError(KindSyntaxError, "unterminated comment")
			}

		case c == '\'':
			end, err := skipQuoted(rs, i, '\'', false)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokLiteral, pos: i})
			i = end

		case c == '"':
			end, err := skipQuoted(rs, i, '"', false)
			if err != nil {
				return nil, err
			}
			ident := strings.ReplaceAll(string(rs[i+1:end-1]), `""`, `"`)
			tokens = append(tokens, token{kind: tokQuotedIdent, text: ident, pos: i})
			i = end

		case c == '$':
			if tag, ok := dollarTag(rs, i); ok {
				closing := []rune(tag)
				end := indexRunes(rs, i+len(closing), closing)
				if end < 0 {
					return nil, newRunnerError(KindSyntaxError, "unterminated dollar-quoted string")
				}
				tokens = append(tokens, token{kind: tokLiteral, pos: i})
				i = end + len(closing)
				continue
			}
			// no arguments are ever bound, so a positional parameter can only fail client side
			if i+1 < n && unicode.IsDigit(rs[i+1]) {
				return nil, newRunnerError(KindSyntaxError, "positional parameters are not supported (position %d)", i+1)
			}
			tokens = append(tokens, token{kind: tokOther, text: "$", pos: i})
			i++

		case isIdentStart(c):
			start := i
			for i < n && isIdentPart(rs[i]) {
				i++
			}
			word := string(rs[start:i])
			// E'...' escape strings honour backslashes
			if (word == "E" || word == "e") && i < n && rs[i] == '\'' {
				end, err := skipQuoted(rs, i, '\'', true)
				if err != nil {
					return nil, err
				}
				tokens = append(tokens, token{kind: tokLiteral, pos: start})
				i = end
				continue
			}
			tokens = append(tokens, token{kind: tokWord, text: strings.ToUpper(word), pos: start})

		case c == ';':
			tokens = append(tokens, token{kind: tokSemicolon, text: ";", pos: i})
			i++

		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++

		default:
			tokens = append(tokens, token{kind: tokOther, text: string(c), pos: i})
			i++
		}
	}
	return tokens, nil
}

// skipQuoted returns the index just past the closing quote starting at rs[start].
// A doubled quote is an escaped quote.
func skipQuoted(rs []rune, start int, quote rune, backslash bool) (int, error) {
	for i := start + 1; i < len(rs); i++ {
		switch {
		case backslash && rs[i] == '\\':
			i++
		case rs[i] == quote:
			if i+1 < len(rs) && rs[i+1] == quote {
				i++
				continue
			}
			return i + 1, nil
		}
	}
	return 0, newRunnerError(KindSyntaxError, "unterminated quoted string")
}

// dollarTag recognises $$ or $tag$ at rs[i].
func dollarTag(rs []rune, i int) (string, bool) {
	if i > 0 && isIdentPart(rs[i-1]) {
		return "", false
	}
	j := i + 1
	for j < len(rs) && rs[j] != '$' {
		if !isIdentPart(rs[j]) || unicode.IsDigit(rs[j]) && j == i+1 {
			return "", false
		}
		j++
	}
	if j >= len(rs) {
		return "", false
	}
	return string(rs[i : j+1]), true
}

func indexRunes(rs []rune, from int, needle []rune) int {
	for i := from; i+len(needle) <= len(rs); i++ {
		match := true
		for k := range needle {
			if rs[i+k] != needle[k] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func isIdentStart(c rune) bool {
	return c == '_' || unicode.IsLetter(c)
}

func isIdentPart(c rune) bool {
	return c == '_' || c == '$' || unicode.IsLetter(c) || unicode.IsDigit(c)
}
