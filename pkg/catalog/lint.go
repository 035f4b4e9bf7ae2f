package catalog

import "fmt"

// Problem is a single documentation-consistency finding. A clean schema
// produces none.
type Problem struct {
	Table   string
	Message string
}

func (p Problem) String() string {
	if p.Table == "" {
		return p.Message
	}
	return p.Table + ": " + p.Message
}

var knownCardinalities = map[string]bool{
	"N:1": true,
	"1:N": true,
	"1:1": true,
}

// Lint checks the schema documentation for internal consistency and
// returns every problem found. The two load-bearing checks are that a
// table declared identical to another really has the same column list,
// and that every reference targets a documented table's surrogate key;
// the rest are structural checks in the same spirit.
func Lint(s *Schema) []Problem {
	var problems []Problem
	report := func(table, format string, args ...any) {
		problems = append(problems, Problem{Table: table, Message: fmt.Sprintf(format, args...)})
	}

	seen := make(map[string]bool, len(s.Tables))
	for i := range s.Tables {
		t := &s.Tables[i]
		if seen[t.Name] {
			report(t.Name, "duplicate table name")
			continue
		}
		seen[t.Name] = true

		if t.Kind != KindDimension && t.Kind != KindFact {
			report(t.Name, "unknown kind %q", t.Kind)
		}
		if len(t.Columns) == 0 {
			report(t.Name, "no columns documented")
		}

		cols := make(map[string]bool, len(t.Columns))
		for _, c := range t.Columns {
			if cols[c.Name] {
				report(t.Name, "duplicate column %q", c.Name)
			}
			cols[c.Name] = true
			if c.Type == "" {
				report(t.Name, "column %q has no type", c.Name)
			}
		}

		switch {
		case t.SurrogateKey == "":
			report(t.Name, "missing surrogate key")
		case !cols[t.SurrogateKey]:
			report(t.Name, "surrogate key %q is not a documented column", t.SurrogateKey)
		}
		switch {
		case t.NaturalKey == "":
			report(t.Name, "missing natural key")
		case !cols[t.NaturalKey]:
			report(t.Name, "natural key %q is not a documented column", t.NaturalKey)
		}
		if t.SurrogateKey != "" && t.SurrogateKey == t.NaturalKey {
			report(t.Name, "surrogate and natural key are the same column %q", t.SurrogateKey)
		}

		if t.IsVariant() {
			lintVariant(s, t, report)
		}

		for _, ref := range t.References {
			lintReference(s, t, ref, cols, report)
		}
	}

	return problems
}

// lintVariant checks a role-playing variant against its base: the base
// must exist, must not itself be a variant, and the column lists must
// be identical in names, types and order.
func lintVariant(s *Schema, t *Table, report func(table, format string, args ...any)) {
	if t.Kind == KindFact {
		report(t.Name, "fact tables cannot be role-playing variants")
		return
	}

	base, ok := s.Lookup(t.IdenticalTo)
	if !ok {
		report(t.Name, "declared identical to undocumented table %q", t.IdenticalTo)
		return
	}
	if base.IsVariant() {
		report(t.Name, "base %q is itself a variant of %q; chains are not allowed", base.Name, base.IdenticalTo)
	}
	if base.Kind != t.Kind {
		report(t.Name, "kind %q differs from base %q kind %q", t.Kind, base.Name, base.Kind)
	}
	if t.SurrogateKey != base.SurrogateKey {
		report(t.Name, "surrogate key %q differs from base %q surrogate key %q", t.SurrogateKey, base.Name, base.SurrogateKey)
	}
	if t.NaturalKey != base.NaturalKey {
		report(t.Name, "natural key %q differs from base %q natural key %q", t.NaturalKey, base.Name, base.NaturalKey)
	}

	if len(t.Columns) != len(base.Columns) {
		report(t.Name, "has %d columns, base %q has %d", len(t.Columns), base.Name, len(base.Columns))
		return
	}
	for i, c := range t.Columns {
		bc := base.Columns[i]
		if c.Name != bc.Name || c.Type != bc.Type {
			report(t.Name, "column %d is %s %s, base %q has %s %s", i+1, c.Name, c.Type, base.Name, bc.Name, bc.Type)
		}
	}
}

func lintReference(s *Schema, t *Table, ref Reference, cols map[string]bool, report func(table, format string, args ...any)) {
	if !cols[ref.Column] {
		report(t.Name, "reference column %q is not a documented column", ref.Column)
	}
	if !knownCardinalities[ref.Cardinality] {
		report(t.Name, "reference %q has unknown cardinality %q", ref.Column, ref.Cardinality)
	}

	target, ok := s.Lookup(ref.Table)
	if !ok {
		report(t.Name, "reference %q targets undocumented table %q", ref.Column, ref.Table)
		return
	}
	if ref.TargetColumn != target.SurrogateKey {
		report(t.Name, "reference %q targets column %q, but the surrogate key of %q is %q",
			ref.Column, ref.TargetColumn, target.Name, target.SurrogateKey)
	}
}
