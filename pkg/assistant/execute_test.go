package assistant

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPipelineExecute(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	query := GeneratedQuery{
		DataQuestion: DataQuestion{Question: "Quantos votos?"},
		SQL:          "SELECT COUNT(*) AS total FROM fat_votacao",
	}

	t.Run("returns the querier result", func(t *testing.T) {
		q := singleRowQuerier()
		p := testPipeline(t, &fakeLLM{}, q)

		executed := p.Execute(ctx, query)
		require.Empty(t, executed.Result.Error)
		require.Equal(t, 1, executed.Result.Count)
		require.Equal(t, query, executed.GeneratedQuery)
	})

	t.Run("infrastructure errors land in the result", func(t *testing.T) {
		q := &fakeQuerier{query: func(sql string) (QueryResult, error) {
			return QueryResult{}, fmt.Errorf("connection refused")
		}}
		p := testPipeline(t, &fakeLLM{}, q)

		executed := p.Execute(ctx, query)
		require.Contains(t, executed.Result.Error, "execution error")
		require.Contains(t, executed.Result.Error, "connection refused")
		require.Equal(t, query.SQL, executed.Result.SQL)
	})
}

func TestFormatValueForLLM(t *testing.T) {
	t.Parallel()

	require.Equal(t, "42", formatValueForLLM(float64(42)))
	require.Equal(t, "3.33", formatValueForLLM(3.3333333333333335))
	require.Equal(t, "7", formatValueForLLM(float32(7)))
	require.Equal(t, "", formatValueForLLM(nil))
	require.Equal(t, "texto", formatValueForLLM("texto"))
	require.Equal(t, "123", formatValueForLLM(int64(123)))

	long := strings.Repeat("a", 150)
	got := formatValueForLLM(long)
	require.Len(t, got, 100)
	require.True(t, strings.HasSuffix(got, "..."))
}

func TestFormatQueryResult(t *testing.T) {
	t.Parallel()

	t.Run("error result", func(t *testing.T) {
		got := FormatQueryResult(QueryResult{Error: "Binder Error: boom"})
		require.Equal(t, "Error: Binder Error: boom", got)
	})

	t.Run("zero rows", func(t *testing.T) {
		got := FormatQueryResult(QueryResult{Columns: []string{"nome"}})
		require.Equal(t, "Query returned no results.", got)
	})

	t.Run("rows are pipe separated", func(t *testing.T) {
		got := FormatQueryResult(QueryResult{
			Columns: []string{"nome", "votos"},
			Rows: []map[string]any{
				{"nome": "Duarte Bechir", "votos": float64(10)},
				{"nome": "Beatriz Cerqueira", "votos": float64(12)},
			},
			Count: 2,
		})
		require.Contains(t, got, "Columns: nome, votos")
		require.Contains(t, got, "Rows (2 total):")
		require.Contains(t, got, "Duarte Bechir | 10")
		require.Contains(t, got, "Beatriz Cerqueira | 12")
	})

	t.Run("caps the display at 50 rows", func(t *testing.T) {
		rows := make([]map[string]any, 80)
		for i := range rows {
			rows[i] = map[string]any{"n": int64(i)}
		}
		got := FormatQueryResult(QueryResult{Columns: []string{"n"}, Rows: rows, Count: 80})
		require.Contains(t, got, "... and 30 more rows")
		require.Equal(t, 50+3, strings.Count(got, "\n")) // 50 rows + header lines + trailer
	})
}
