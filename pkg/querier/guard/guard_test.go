package guard

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plenariolabs/plenario/pkg/catalog/almg"
)

func TestGuardCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		sql     string
		wantErr string
	}{
		{
			name: "accepts a documented star join",
			sql: `SELECT p.nome, COUNT(*) AS total_votos
				FROM fat_votacao f
				JOIN dim_parlamentar p ON p.sk_parlamentar = f.sk_parlamentar
				WHERE f.voto = 'Sim'
				GROUP BY p.nome
				ORDER BY total_votos DESC
				LIMIT 10`,
		},
		{
			name: "accepts a CTE",
			sql: `WITH votos_por_ano AS (
					SELECT d.ano, COUNT(*) AS total
					FROM fat_votacao f
					JOIN dim_data_votacao d ON d.sk_data = f.sk_data_votacao
					GROUP BY d.ano
				)
				SELECT * FROM votos_por_ano ORDER BY ano`,
		},
		{
			name: "accepts implicit table aliases",
			sql:  `SELECT p.nome FROM dim_parlamentar p`,
		},
		{
			name: "accepts subquery aliases",
			sql:  `SELECT t.nome FROM (SELECT nome FROM dim_parlamentar) t`,
		},
		{
			name: "accepts date functions and cast targets",
			sql: `SELECT CAST(ano AS VARCHAR) AS ano_texto, date_trunc('month', data) AS mes_ref
				FROM dim_data_apresentacao
				WHERE fim_de_semana = false`,
		},
		{
			name: "ignores identifiers inside string literals",
			sql:  `SELECT nome FROM dim_parlamentar WHERE nome LIKE '%DROP TABLE%'`,
		},
		{
			name: "ignores identifiers inside comments",
			sql:  "-- consulta sobre tabela_que_nao_existe\nSELECT nome FROM dim_parlamentar",
		},
		{
			name:    "rejects an undocumented column",
			sql:     `SELECT nome_completo FROM dim_parlamentar`,
			wantErr: "unknown identifiers: nome_completo",
		},
		{
			name:    "rejects an undocumented table",
			sql:     `SELECT * FROM dim_senador`,
			wantErr: "unknown identifiers: dim_senador",
		},
		{
			name:    "names every unknown identifier once",
			sql:     `SELECT foo, bar, foo FROM dim_parlamentar`,
			wantErr: "unknown identifiers: foo, bar",
		},
		{
			name:    "rejects an INSERT",
			sql:     `INSERT INTO dim_parlamentar VALUES (1)`,
			wantErr: "must begin with SELECT or WITH",
		},
		{
			name:    "rejects writes hidden behind a CTE",
			sql:     `WITH x AS (SELECT 1 AS n) DELETE FROM dim_parlamentar`,
			wantErr: `statement "DELETE" is not allowed`,
		},
		{
			name:    "rejects multiple statements",
			sql:     `SELECT 1; DROP TABLE dim_parlamentar`,
			wantErr: "only a single statement is allowed",
		},
		{
			name:    "rejects PRAGMA",
			sql:     `PRAGMA database_list`,
			wantErr: "must begin with SELECT or WITH",
		},
		{
			name:    "rejects an empty statement",
			sql:     "   ",
			wantErr: "empty statement",
		},
		{
			name:    "rejects a statement that is only a comment",
			sql:     "-- nothing here",
			wantErr: "empty statement",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.sql, &almg.Schema)
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestStripLiteralsAndComments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		sql      string
		expected string
	}{
		{
			name:     "string literal",
			sql:      `SELECT 'DROP TABLE x' AS s`,
			expected: `SELECT                AS s`,
		},
		{
			name:     "doubled quote escape",
			sql:      `SELECT 'O''Neil' AS s`,
			expected: `SELECT           AS s`,
		},
		{
			name:     "quoted identifier",
			sql:      `SELECT "weird name" FROM t`,
			expected: `SELECT              FROM t`,
		},
		{
			name:     "line comment",
			sql:      "SELECT 1 -- trailing\nFROM t",
			expected: "SELECT 1            \nFROM t",
		},
		{
			name:     "block comment",
			sql:      "SELECT /* hidden */ 1",
			expected: "SELECT              1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := stripLiteralsAndComments(tt.sql)
			require.Equal(t, tt.expected, got)
			require.Len(t, got, len(tt.sql))
		})
	}
}
