package assistant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRespond(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("includes history and the current question", func(t *testing.T) {
		llm := &fakeLLM{complete: func(system, user string) (string, error) {
			return "  Posso ajudar com dados legislativos.  ", nil
		}}
		p := testPipeline(t, llm, &fakeQuerier{})

		answer, err := p.RespondWithHistory(ctx, "E o que mais?", []ConversationMessage{
			{Role: "user", Content: "O que você faz?"},
			{Role: "assistant", Content: "Respondo perguntas sobre a Assembleia."},
		})
		require.NoError(t, err)
		require.Equal(t, "Posso ajudar com dados legislativos.", answer)

		user := llm.calls[0].User
		require.Contains(t, user, "Previous conversation:")
		require.Contains(t, user, "User: O que você faz?")
		require.Contains(t, user, "Assistant: Respondo perguntas sobre a Assembleia.")
		require.Contains(t, user, "Current question: E o que mais?")
	})

	t.Run("appends the format context to the system prompt", func(t *testing.T) {
		llm := &fakeLLM{complete: func(system, user string) (string, error) {
			return "ok", nil
		}}
		p, err := New(&Config{
			Logger:        testLogger(),
			LLM:           llm,
			Querier:       &fakeQuerier{},
			SchemaFetcher: &fakeSchemaFetcher{},
			Prompts:       testPrompts(),
			FormatContext: "Use mrkdwn do Slack.",
		})
		require.NoError(t, err)

		_, err = p.Respond(ctx, "Oi")
		require.NoError(t, err)
		require.Equal(t, "RESPOND\n\nUse mrkdwn do Slack.", llm.calls[0].System)
	})
}

func TestSynthesizeUsesFormatContext(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{complete: func(system, user string) (string, error) {
		return "Resposta final.", nil
	}}
	p, err := New(&Config{
		Logger:        testLogger(),
		LLM:           llm,
		Querier:       &fakeQuerier{},
		SchemaFetcher: &fakeSchemaFetcher{},
		Prompts:       testPrompts(),
		FormatContext: "Use mrkdwn do Slack.",
	})
	require.NoError(t, err)

	executed := []ExecutedQuery{{
		GeneratedQuery: GeneratedQuery{
			DataQuestion: DataQuestion{Question: "Quantos votos?", Rationale: "contagem"},
			SQL:          "SELECT COUNT(*) FROM fat_votacao",
		},
		Result: QueryResult{Columns: []string{"total"}, Rows: []map[string]any{{"total": int64(42)}}, Count: 1},
	}}

	answer, err := p.Synthesize(context.Background(), "Quantos votos?", executed)
	require.NoError(t, err)
	require.Equal(t, "Resposta final.", answer)

	require.Equal(t, "SYNTHESIZE\n\nUse mrkdwn do Slack.", llm.calls[0].System)
	user := llm.calls[0].User
	require.Contains(t, user, "## Data Question 1")
	require.Contains(t, user, "**Confidence**: HIGH")
	require.Contains(t, user, "SELECT COUNT(*) FROM fat_votacao")
	require.Contains(t, user, "42")
}
