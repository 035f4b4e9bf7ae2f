package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// testSchema returns a small valid schema with one base dimension, one
// role-playing variant and one fact referencing the variant.
func testSchema() *Schema {
	base := Table{
		Name:         "dim_pessoa",
		Kind:         KindDimension,
		Description:  "Pessoas do sistema de origem.",
		SurrogateKey: "sk_pessoa",
		NaturalKey:   "id",
		Columns: []Column{
			{Name: "sk_pessoa", Type: "BIGINT", Description: "Chave substituta."},
			{Name: "id", Type: "VARCHAR", Description: "Identificador de origem."},
			{Name: "nome", Type: "VARCHAR", Description: "Nome."},
		},
	}
	return &Schema{
		Name:        "test",
		Description: "Esquema de teste.",
		Tables: []Table{
			base,
			{
				Name:         "dim_pessoa_autora",
				Kind:         KindDimension,
				Description:  "Pessoas no papel de autoras.",
				SurrogateKey: "sk_pessoa",
				NaturalKey:   "id",
				IdenticalTo:  "dim_pessoa",
				Columns:      base.Columns,
			},
			{
				Name:         "fat_evento",
				Kind:         KindFact,
				Description:  "Eventos registrados.",
				SurrogateKey: "sk_evento",
				NaturalKey:   "id",
				Columns: []Column{
					{Name: "sk_evento", Type: "BIGINT", Description: "Chave substituta."},
					{Name: "id", Type: "VARCHAR", Description: "Identificador degenerado."},
					{Name: "sk_pessoa_autora", Type: "BIGINT", Description: "Chave da pessoa autora."},
					{Name: "valor", Type: "INTEGER", Description: "Valor do evento."},
				},
				References: []Reference{
					{Column: "sk_pessoa_autora", Table: "dim_pessoa_autora", TargetColumn: "sk_pessoa", Cardinality: "N:1"},
				},
			},
		},
	}
}

func TestSchemaLookup(t *testing.T) {
	t.Parallel()

	s := testSchema()

	table, ok := s.Lookup("fat_evento")
	require.True(t, ok)
	require.Equal(t, KindFact, table.Kind)

	_, ok = s.Lookup("dim_inexistente")
	require.False(t, ok)
}

func TestTableHelpers(t *testing.T) {
	t.Parallel()

	t.Run("kind_accessors", func(t *testing.T) {
		t.Parallel()
		s := testSchema()
		require.Len(t, s.Dimensions(), 2)
		require.Len(t, s.Facts(), 1)
		require.Equal(t, "dim_pessoa", s.Dimensions()[0].Name)
	})

	t.Run("is_variant", func(t *testing.T) {
		t.Parallel()
		s := testSchema()
		base, _ := s.Lookup("dim_pessoa")
		variant, _ := s.Lookup("dim_pessoa_autora")
		require.False(t, base.IsVariant())
		require.True(t, variant.IsVariant())
	})

	t.Run("column_accessors", func(t *testing.T) {
		t.Parallel()
		s := testSchema()
		dim, _ := s.Lookup("dim_pessoa")
		require.True(t, dim.HasColumn("nome"))
		require.False(t, dim.HasColumn("sobrenome"))
		require.Equal(t, []string{"sk_pessoa", "id", "nome"}, dim.ColumnNames())
		require.Equal(t, []string{"sk_pessoa:BIGINT", "id:VARCHAR", "nome:VARCHAR"}, dim.ColumnDefs())
	})

	t.Run("payload_columns_exclude_keys", func(t *testing.T) {
		t.Parallel()
		s := testSchema()
		dim, _ := s.Lookup("dim_pessoa")
		require.Equal(t, []string{"nome"}, dim.PayloadColumns())
	})

	t.Run("load_columns_exclude_surrogate_only", func(t *testing.T) {
		t.Parallel()
		s := testSchema()
		fact, _ := s.Lookup("fat_evento")
		require.Equal(t, []string{"id", "sk_pessoa_autora", "valor"}, fact.LoadColumns())
	})
}

func TestSummary(t *testing.T) {
	t.Parallel()

	t.Run("groups_dimensions_and_facts", func(t *testing.T) {
		t.Parallel()
		summary := Summary(testSchema())
		require.Contains(t, summary, "Dimensões:\n- dim_pessoa(sk_pessoa, id, nome): Pessoas do sistema de origem.")
		require.Contains(t, summary, "Fatos:\n- fat_evento(sk_evento, id, sk_pessoa_autora, valor): Eventos registrados.")
	})

	t.Run("marks_role_variants", func(t *testing.T) {
		t.Parallel()
		summary := Summary(testSchema())
		require.Contains(t, summary, "- dim_pessoa_autora(sk_pessoa, id, nome): Pessoas no papel de autoras. Papel de dim_pessoa.")
	})

	t.Run("spells_out_join_paths", func(t *testing.T) {
		t.Parallel()
		summary := Summary(testSchema())
		require.Contains(t, summary, "Joins: sk_pessoa_autora -> dim_pessoa_autora.sk_pessoa.")
	})

	t.Run("is_deterministic", func(t *testing.T) {
		t.Parallel()
		s := testSchema()
		require.Equal(t, Summary(s), Summary(s))
	})
}
