// Package guard validates client SQL against the documented warehouse
// catalog before it reaches the engine: one statement, SELECT-shaped, no
// write or DDL verbs anywhere, and no bare identifier the data dictionary
// does not document. LLM-generated SQL goes through the same gate as
// hand-written SQL; a hallucinated column is rejected by name.
package guard

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/plenariolabs/plenario/pkg/catalog"
)

var identifierPattern = regexp.MustCompile(`\b[a-zA-Z_][a-zA-Z0-9_]*\b`)

// denied verbs reject the whole statement wherever they appear, so an
// embedded `WITH x AS (...) INSERT INTO` cannot slip past the head check.
var deniedStatements = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true,
	"DROP": true, "ALTER": true, "CREATE": true, "TRUNCATE": true,
	"ATTACH": true, "DETACH": true, "USE": true,
	"PRAGMA": true, "SET": true, "RESET": true,
	"COPY": true, "EXPORT": true, "IMPORT": true,
	"INSTALL": true, "LOAD": true, "CALL": true,
	"GRANT": true, "REVOKE": true,
	"BEGIN": true, "COMMIT": true, "ROLLBACK": true,
	"VACUUM": true, "CHECKPOINT": true,
	"EXECUTE": true, "PREPARE": true, "DEALLOCATE": true,
}

// allowedKeywords holds the SQL keywords, functions and type names a
// read-only analytical query may use without the catalog documenting
// them. Everything else must be a documented table or column, or an
// alias the query introduces itself.
var allowedKeywords = map[string]bool{
	// statement structure
	"SELECT": true, "DISTINCT": true, "FROM": true, "WHERE": true,
	"GROUP": true, "BY": true, "HAVING": true, "ORDER": true,
	"LIMIT": true, "OFFSET": true, "AS": true, "WITH": true,
	"RECURSIVE": true, "QUALIFY": true, "UNION": true, "ALL": true,
	"EXCEPT": true, "INTERSECT": true, "VALUES": true, "FILTER": true,

	// joins
	"JOIN": true, "ON": true, "USING": true, "LEFT": true, "RIGHT": true,
	"INNER": true, "OUTER": true, "FULL": true, "CROSS": true, "NATURAL": true,

	// predicates and operators
	"AND": true, "OR": true, "NOT": true, "IN": true, "IS": true,
	"NULL": true, "LIKE": true, "ILIKE": true, "SIMILAR": true, "TO": true,
	"BETWEEN": true, "EXISTS": true, "ANY": true, "SOME": true,
	"TRUE": true, "FALSE": true,

	// CASE expressions
	"CASE": true, "WHEN": true, "THEN": true, "ELSE": true, "END": true,

	// ordering
	"ASC": true, "DESC": true, "NULLS": true, "FIRST": true, "LAST": true,

	// grouping extensions
	"ROLLUP": true, "CUBE": true, "GROUPING": true, "SETS": true,

	// window clauses
	"OVER": true, "PARTITION": true, "ROWS": true, "RANGE": true,
	"UNBOUNDED": true, "PRECEDING": true, "FOLLOWING": true, "CURRENT": true,
	"ROW": true, "WINDOW": true,

	// aggregates
	"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true,
	"MEDIAN": true, "MODE": true, "STDDEV": true, "VARIANCE": true,
	"STRING_AGG": true, "ARRAY_AGG": true, "LIST": true, "ANY_VALUE": true,
	"BOOL_AND": true, "BOOL_OR": true,

	// window functions
	"ROW_NUMBER": true, "RANK": true, "DENSE_RANK": true, "NTILE": true,
	"PERCENT_RANK": true, "CUME_DIST": true,
	"LAG": true, "LEAD": true, "FIRST_VALUE": true, "LAST_VALUE": true,
	"NTH_VALUE": true,

	// scalar functions
	"COALESCE": true, "NULLIF": true, "IFNULL": true, "GREATEST": true,
	"LEAST": true, "ABS": true, "ROUND": true, "FLOOR": true, "CEIL": true,
	"CEILING": true, "POWER": true, "SQRT": true, "EXP": true, "LN": true,
	"LOG": true, "SIGN": true,
	"LOWER": true, "UPPER": true, "TRIM": true, "LTRIM": true, "RTRIM": true,
	"LENGTH": true, "SUBSTR": true, "SUBSTRING": true, "REPLACE": true,
	"CONCAT": true, "CONCAT_WS": true, "SPLIT_PART": true, "LPAD": true,
	"RPAD": true, "REVERSE": true, "STRIP_ACCENTS": true,
	"CONTAINS": true, "STARTS_WITH": true, "ENDS_WITH": true, "POSITION": true,
	"REGEXP_MATCHES": true, "REGEXP_REPLACE": true, "REGEXP_EXTRACT": true,
	"UNNEST": true, "GENERATE_SERIES": true,

	// date and time
	"DATE": true, "TIME": true, "TIMESTAMP": true, "INTERVAL": true,
	"YEAR": true, "MONTH": true, "DAY": true, "HOUR": true, "MINUTE": true,
	"SECOND": true, "QUARTER": true, "WEEK": true, "EPOCH": true,
	"CAST": true, "TRY_CAST": true, "EXTRACT": true,
	"DATE_TRUNC": true, "DATE_PART": true, "DATE_DIFF": true,
	"DATEDIFF": true, "DATE_ADD": true, "DATE_SUB": true,
	"STRFTIME": true, "STRPTIME": true, "MAKE_DATE": true,
	"MONTHNAME": true, "DAYNAME": true, "DAYOFWEEK": true, "LAST_DAY": true,
	"CURRENT_DATE": true, "CURRENT_TIMESTAMP": true, "NOW": true, "TODAY": true,

	// type names, mostly for CAST targets
	"INTEGER": true, "INT": true, "BIGINT": true, "SMALLINT": true,
	"TINYINT": true, "DOUBLE": true, "FLOAT": true, "REAL": true,
	"DECIMAL": true, "NUMERIC": true, "VARCHAR": true, "TEXT": true,
	"BOOLEAN": true, "BLOB": true,
}

type token struct {
	text  string
	start int
	end   int
}

// Check validates one read-only statement against the documented schema.
// The returned error names the offending verb or identifiers; a nil
// return means the statement is safe to hand to the warehouse.
func Check(sql string, schema *catalog.Schema) error {
	cleaned := stripLiteralsAndComments(sql)

	trimmed := strings.TrimSpace(cleaned)
	if trimmed == "" {
		return errors.New("empty statement")
	}
	if rest := strings.TrimSuffix(trimmed, ";"); strings.Contains(rest, ";") {
		return errors.New("only a single statement is allowed")
	}

	tokens := findTokens(cleaned)
	if len(tokens) == 0 {
		return errors.New("empty statement")
	}

	head := strings.ToUpper(tokens[0].text)
	if head != "SELECT" && head != "WITH" {
		return fmt.Errorf("statement must begin with SELECT or WITH, got %q", tokens[0].text)
	}
	for _, tok := range tokens {
		if upper := strings.ToUpper(tok.text); deniedStatements[upper] {
			return fmt.Errorf("statement %q is not allowed", upper)
		}
	}

	tables := make(map[string]bool, len(schema.Tables))
	columns := make(map[string]bool)
	for _, t := range schema.Tables {
		tables[strings.ToLower(t.Name)] = true
		for _, c := range t.Columns {
			columns[strings.ToLower(c.Name)] = true
		}
	}

	aliases := collectAliases(cleaned, tokens, tables)

	var unknown []string
	seen := make(map[string]bool)
	for _, tok := range tokens {
		upper := strings.ToUpper(tok.text)
		lower := strings.ToLower(tok.text)
		if allowedKeywords[upper] || tables[lower] || columns[lower] || aliases[lower] {
			continue
		}
		if !seen[lower] {
			seen[lower] = true
			unknown = append(unknown, tok.text)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unknown identifiers: %s", strings.Join(unknown, ", "))
	}

	return nil
}

// collectAliases gathers the identifiers the statement introduces itself:
// names on either side of AS, implicit aliases directly after a table
// name, and implicit aliases directly after a closing parenthesis. The
// CTE form `WITH name AS (` is told apart from `expr AS name` by what
// follows the AS.
func collectAliases(cleaned string, tokens []token, tables map[string]bool) map[string]bool {
	aliases := make(map[string]bool)
	for i, tok := range tokens {
		upper := strings.ToUpper(tok.text)
		lower := strings.ToLower(tok.text)
		if upper == "AS" || allowedKeywords[upper] {
			continue
		}

		if i > 0 && strings.ToUpper(tokens[i-1].text) == "AS" {
			aliases[lower] = true
			continue
		}
		if i+1 < len(tokens) && strings.ToUpper(tokens[i+1].text) == "AS" &&
			nextNonSpace(cleaned, tokens[i+1].end) == '(' {
			aliases[lower] = true
			continue
		}
		if i > 0 && tables[strings.ToLower(tokens[i-1].text)] && prevNonSpace(cleaned, tok.start) != '.' {
			aliases[lower] = true
			continue
		}
		if prevNonSpace(cleaned, tok.start) == ')' {
			aliases[lower] = true
		}
	}
	return aliases
}

func findTokens(cleaned string) []token {
	matches := identifierPattern.FindAllStringIndex(cleaned, -1)
	tokens := make([]token, len(matches))
	for i, m := range matches {
		tokens[i] = token{text: cleaned[m[0]:m[1]], start: m[0], end: m[1]}
	}
	return tokens
}

func nextNonSpace(s string, from int) byte {
	for i := from; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return s[i]
		}
	}
	return 0
}

func prevNonSpace(s string, before int) byte {
	for i := before - 1; i >= 0; i-- {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return s[i]
		}
	}
	return 0
}

// stripLiteralsAndComments blanks out string literals, quoted
// identifiers and comments so identifier scanning never reads their
// contents. Spans are replaced byte for byte with spaces, keeping every
// remaining token at its original offset.
func stripLiteralsAndComments(sql string) string {
	out := []byte(sql)
	for i := 0; i < len(sql); {
		switch {
		case sql[i] == '\'':
			i = blankQuoted(out, sql, i, '\'')
		case sql[i] == '"':
			i = blankQuoted(out, sql, i, '"')
		case strings.HasPrefix(sql[i:], "--"):
			for i < len(sql) && sql[i] != '\n' {
				out[i] = ' '
				i++
			}
		case strings.HasPrefix(sql[i:], "/*"):
			for i < len(sql) {
				if strings.HasPrefix(sql[i:], "*/") {
					out[i], out[i+1] = ' ', ' '
					i += 2
					break
				}
				out[i] = ' '
				i++
			}
		default:
			i++
		}
	}
	return string(out)
}

// blankQuoted blanks a quoted span starting at i, honoring the SQL
// doubled-quote escape, and returns the index just past it.
func blankQuoted(out []byte, sql string, i int, quote byte) int {
	out[i] = ' '
	i++
	for i < len(sql) {
		if sql[i] == quote {
			if i+1 < len(sql) && sql[i+1] == quote {
				out[i], out[i+1] = ' ', ' '
				i += 2
				continue
			}
			out[i] = ' '
			return i + 1
		}
		out[i] = ' '
		i++
	}
	return i
}
