package assistant

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFollowUps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	run := func(t *testing.T, response string) ([]string, error) {
		t.Helper()
		llm := &fakeLLM{complete: func(system, user string) (string, error) {
			require.Contains(t, user, "User question: Quantos votos?")
			require.Contains(t, user, "Answer provided:\nForam 42.")
			return response, nil
		}}
		p := testPipeline(t, llm, &fakeQuerier{})
		return p.FollowUps(ctx, "Quantos votos?", "Foram 42.")
	}

	t.Run("plain JSON array", func(t *testing.T) {
		questions, err := run(t, `["E em 2023?", "Por partido?"]`)
		require.NoError(t, err)
		require.Equal(t, []string{"E em 2023?", "Por partido?"}, questions)
	})

	t.Run("fenced JSON array", func(t *testing.T) {
		questions, err := run(t, "```json\n[\"E em 2023?\"]\n```")
		require.NoError(t, err)
		require.Equal(t, []string{"E em 2023?"}, questions)
	})

	t.Run("caps at three suggestions", func(t *testing.T) {
		questions, err := run(t, `["a", "b", "c", "d", "e"]`)
		require.NoError(t, err)
		require.Len(t, questions, 3)
	})

	t.Run("unparseable response yields no suggestions", func(t *testing.T) {
		questions, err := run(t, "maybe ask about parties?")
		require.NoError(t, err)
		require.Nil(t, questions)
	})

	t.Run("LLM failure is an error", func(t *testing.T) {
		llm := &fakeLLM{complete: func(system, user string) (string, error) {
			return "", fmt.Errorf("api down")
		}}
		p := testPipeline(t, llm, &fakeQuerier{})
		_, err := p.FollowUps(ctx, "Quantos votos?", "Foram 42.")
		require.ErrorContains(t, err, "LLM completion failed")
	})
}
