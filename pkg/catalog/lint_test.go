package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// problemMessages flattens lint output for assertion.
func problemMessages(problems []Problem) []string {
	msgs := make([]string, len(problems))
	for i, p := range problems {
		msgs[i] = p.String()
	}
	return msgs
}

func TestLint(t *testing.T) {
	t.Parallel()

	t.Run("clean_schema_has_no_problems", func(t *testing.T) {
		t.Parallel()
		require.Empty(t, Lint(testSchema()))
	})

	t.Run("reports_duplicate_table_names", func(t *testing.T) {
		t.Parallel()
		s := testSchema()
		s.Tables = append(s.Tables, s.Tables[0])
		require.Contains(t, problemMessages(Lint(s)), "dim_pessoa: duplicate table name")
	})

	t.Run("reports_missing_surrogate_key", func(t *testing.T) {
		t.Parallel()
		s := testSchema()
		dim, _ := s.Lookup("dim_pessoa")
		dim.SurrogateKey = ""
		require.Contains(t, problemMessages(Lint(s)), "dim_pessoa: missing surrogate key")
	})

	t.Run("reports_undocumented_surrogate_key", func(t *testing.T) {
		t.Parallel()
		s := testSchema()
		fact, _ := s.Lookup("fat_evento")
		fact.SurrogateKey = "sk_outro"
		require.Contains(t, problemMessages(Lint(s)), `fat_evento: surrogate key "sk_outro" is not a documented column`)
	})

	t.Run("reports_missing_natural_key", func(t *testing.T) {
		t.Parallel()
		s := testSchema()
		fact, _ := s.Lookup("fat_evento")
		fact.NaturalKey = ""
		require.Contains(t, problemMessages(Lint(s)), "fat_evento: missing natural key")
	})

	t.Run("reports_variant_column_type_mismatch", func(t *testing.T) {
		t.Parallel()
		s := testSchema()
		variant, _ := s.Lookup("dim_pessoa_autora")
		cols := make([]Column, len(variant.Columns))
		copy(cols, variant.Columns)
		cols[2].Type = "INTEGER"
		variant.Columns = cols

		require.Contains(t, problemMessages(Lint(s)),
			`dim_pessoa_autora: column 3 is nome INTEGER, base "dim_pessoa" has nome VARCHAR`)
	})

	t.Run("reports_variant_column_count_mismatch", func(t *testing.T) {
		t.Parallel()
		s := testSchema()
		variant, _ := s.Lookup("dim_pessoa_autora")
		variant.Columns = append([]Column{}, variant.Columns...)
		variant.Columns = append(variant.Columns, Column{Name: "extra", Type: "VARCHAR"})

		require.Contains(t, problemMessages(Lint(s)),
			`dim_pessoa_autora: has 4 columns, base "dim_pessoa" has 3`)
	})

	t.Run("reports_variant_of_undocumented_base", func(t *testing.T) {
		t.Parallel()
		s := testSchema()
		variant, _ := s.Lookup("dim_pessoa_autora")
		variant.IdenticalTo = "dim_fantasma"
		require.Contains(t, problemMessages(Lint(s)),
			`dim_pessoa_autora: declared identical to undocumented table "dim_fantasma"`)
	})

	t.Run("reports_variant_chains", func(t *testing.T) {
		t.Parallel()
		s := testSchema()
		variant, _ := s.Lookup("dim_pessoa_autora")
		s.Tables = append(s.Tables, Table{
			Name:         "dim_pessoa_relatora",
			Kind:         KindDimension,
			Description:  "Pessoas no papel de relatoras.",
			SurrogateKey: variant.SurrogateKey,
			NaturalKey:   variant.NaturalKey,
			IdenticalTo:  variant.Name,
			Columns:      variant.Columns,
		})

		require.Contains(t, problemMessages(Lint(s)),
			`dim_pessoa_relatora: base "dim_pessoa_autora" is itself a variant of "dim_pessoa"; chains are not allowed`)
	})

	t.Run("reports_fact_variants", func(t *testing.T) {
		t.Parallel()
		s := testSchema()
		fact, _ := s.Lookup("fat_evento")
		fact.IdenticalTo = "dim_pessoa"
		require.Contains(t, problemMessages(Lint(s)),
			"fat_evento: fact tables cannot be role-playing variants")
	})

	t.Run("reports_reference_to_undocumented_table", func(t *testing.T) {
		t.Parallel()
		s := testSchema()
		fact, _ := s.Lookup("fat_evento")
		fact.References[0].Table = "dim_fantasma"
		require.Contains(t, problemMessages(Lint(s)),
			`fat_evento: reference "sk_pessoa_autora" targets undocumented table "dim_fantasma"`)
	})

	t.Run("reports_reference_to_non_surrogate_column", func(t *testing.T) {
		t.Parallel()
		s := testSchema()
		fact, _ := s.Lookup("fat_evento")
		fact.References[0].TargetColumn = "nome"
		require.Contains(t, problemMessages(Lint(s)),
			`fat_evento: reference "sk_pessoa_autora" targets column "nome", but the surrogate key of "dim_pessoa_autora" is "sk_pessoa"`)
	})

	t.Run("reports_undocumented_reference_column", func(t *testing.T) {
		t.Parallel()
		s := testSchema()
		fact, _ := s.Lookup("fat_evento")
		fact.References[0].Column = "sk_oculta"
		require.Contains(t, problemMessages(Lint(s)),
			`fat_evento: reference column "sk_oculta" is not a documented column`)
	})

	t.Run("reports_unknown_cardinality", func(t *testing.T) {
		t.Parallel()
		s := testSchema()
		fact, _ := s.Lookup("fat_evento")
		fact.References[0].Cardinality = "muitos"
		require.Contains(t, problemMessages(Lint(s)),
			`fat_evento: reference "sk_pessoa_autora" has unknown cardinality "muitos"`)
	})

	t.Run("reports_duplicate_columns", func(t *testing.T) {
		t.Parallel()
		s := testSchema()
		dim, _ := s.Lookup("dim_pessoa")
		cols := append([]Column{}, dim.Columns...)
		dim.Columns = append(cols, Column{Name: "nome", Type: "VARCHAR"})
		// The variant keeps the original list, so it also reports a mismatch.
		require.Contains(t, problemMessages(Lint(s)), `dim_pessoa: duplicate column "nome"`)
	})

	t.Run("reports_untyped_columns", func(t *testing.T) {
		t.Parallel()
		s := testSchema()
		fact, _ := s.Lookup("fat_evento")
		cols := append([]Column{}, fact.Columns...)
		cols[3].Type = ""
		fact.Columns = cols
		require.Contains(t, problemMessages(Lint(s)), `fat_evento: column "valor" has no type`)
	})
}
