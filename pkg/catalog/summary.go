package catalog

import (
	"fmt"
	"strings"
)

// Summary renders the schema as compact one-line-per-table text for LLM
// prompts. Tables render in declaration order, grouped into dimensions
// and facts, each line carrying the full column list and the join paths
// so the model never has to guess a column name.
func Summary(s *Schema) string {
	var b strings.Builder

	b.WriteString("Dimensões:\n")
	for _, t := range s.Tables {
		if t.Kind == KindDimension {
			writeSummaryLine(&b, &t)
		}
	}
	b.WriteString("\nFatos:\n")
	for _, t := range s.Tables {
		if t.Kind == KindFact {
			writeSummaryLine(&b, &t)
		}
	}

	return b.String()
}

func writeSummaryLine(b *strings.Builder, t *Table) {
	fmt.Fprintf(b, "- %s(%s): %s", t.Name, strings.Join(t.ColumnNames(), ", "), t.Description)
	if t.IsVariant() {
		fmt.Fprintf(b, " Papel de %s.", t.IdenticalTo)
	}
	if len(t.References) > 0 {
		joins := make([]string, len(t.References))
		for i, ref := range t.References {
			joins[i] = fmt.Sprintf("%s -> %s.%s", ref.Column, ref.Table, ref.TargetColumn)
		}
		fmt.Fprintf(b, " Joins: %s.", strings.Join(joins, ", "))
	}
	b.WriteString("\n")
}
