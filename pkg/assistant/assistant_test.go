package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testPrompts carries a distinct marker per step so fakes can route on the
// system prompt prefix.
func testPrompts() *Prompts {
	return &Prompts{
		CatalogSummary: "CATALOG",
		Classify:       "CLASSIFY",
		Decompose:      "DECOMPOSE",
		Generate:       "GENERATE",
		Respond:        "RESPOND",
		Slack:          "SLACK",
		Synthesize:     "SYNTHESIZE",
		FollowUp:       "FOLLOWUP",
	}
}

type llmCall struct {
	System string
	User   string
	Cached bool
}

// fakeLLM answers completions from a single routing function and records
// every call, so one fake serves all pipeline steps.
type fakeLLM struct {
	mu       sync.Mutex
	calls    []llmCall
	complete func(systemPrompt, userPrompt string) (string, error)
}

func (f *fakeLLM) Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error) {
	var options CompleteOptions
	for _, opt := range opts {
		opt(&options)
	}
	f.mu.Lock()
	f.calls = append(f.calls, llmCall{System: systemPrompt, User: userPrompt, Cached: options.CacheSystemPrompt})
	f.mu.Unlock()
	return f.complete(systemPrompt, userPrompt)
}

type fakeQuerier struct {
	mu    sync.Mutex
	sqls  []string
	query func(sql string) (QueryResult, error)
}

func (f *fakeQuerier) Query(ctx context.Context, sql string) (QueryResult, error) {
	f.mu.Lock()
	f.sqls = append(f.sqls, sql)
	f.mu.Unlock()
	return f.query(sql)
}

type fakeSchemaFetcher struct {
	schema string
	err    error
}

func (f *fakeSchemaFetcher) FetchSchema(ctx context.Context) (string, error) {
	return f.schema, f.err
}

func testPipeline(t *testing.T, llm *fakeLLM, q *fakeQuerier) *Pipeline {
	t.Helper()
	p, err := New(&Config{
		Logger:        testLogger(),
		LLM:           llm,
		Querier:       q,
		SchemaFetcher: &fakeSchemaFetcher{schema: "dim_parlamentar:\n  - nome (VARCHAR)\n"},
		Prompts:       testPrompts(),
	})
	require.NoError(t, err)
	return p
}

func singleRowQuerier() *fakeQuerier {
	return &fakeQuerier{query: func(sql string) (QueryResult, error) {
		return QueryResult{
			SQL:     sql,
			Columns: []string{"total"},
			Rows:    []map[string]any{{"total": int64(42)}},
			Count:   1,
		}, nil
	}}
}

func TestPipelineNew(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{}
	q := &fakeQuerier{}
	fetcher := &fakeSchemaFetcher{}

	t.Run("applies defaults", func(t *testing.T) {
		p, err := New(&Config{Logger: testLogger(), LLM: llm, Querier: q, SchemaFetcher: fetcher, Prompts: testPrompts()})
		require.NoError(t, err)
		require.Equal(t, int64(4096), p.cfg.MaxTokens)
		require.Equal(t, 3, p.cfg.MaxRetries)
	})

	t.Run("requires logger", func(t *testing.T) {
		_, err := New(&Config{LLM: llm, Querier: q, SchemaFetcher: fetcher, Prompts: testPrompts()})
		require.ErrorContains(t, err, "logger is required")
	})

	t.Run("requires LLM client", func(t *testing.T) {
		_, err := New(&Config{Logger: testLogger(), Querier: q, SchemaFetcher: fetcher, Prompts: testPrompts()})
		require.ErrorContains(t, err, "LLM client is required")
	})

	t.Run("requires querier", func(t *testing.T) {
		_, err := New(&Config{Logger: testLogger(), LLM: llm, SchemaFetcher: fetcher, Prompts: testPrompts()})
		require.ErrorContains(t, err, "querier is required")
	})

	t.Run("requires schema fetcher", func(t *testing.T) {
		_, err := New(&Config{Logger: testLogger(), LLM: llm, Querier: q, Prompts: testPrompts()})
		require.ErrorContains(t, err, "schema fetcher is required")
	})

	t.Run("requires prompts", func(t *testing.T) {
		_, err := New(&Config{Logger: testLogger(), LLM: llm, Querier: q, SchemaFetcher: fetcher})
		require.ErrorContains(t, err, "prompts are required")
	})
}

func TestPipelineRunDataAnalysis(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{}
	llm.complete = func(system, user string) (string, error) {
		switch {
		case strings.HasPrefix(system, "CLASSIFY"):
			return `{"classification": "data_analysis", "reasoning": "asks for a count"}`, nil
		case strings.HasPrefix(system, "DECOMPOSE"):
			return `{"data_questions": [{"question": "Quantas proposições foram apresentadas em 2024?", "rationale": "contagem direta"}]}`, nil
		case strings.HasPrefix(system, "GENERATE"):
			return `{"sql": "SELECT COUNT(*) AS total FROM fat_autoria_proposicao", "explanation": "conta autorias"}`, nil
		case strings.HasPrefix(system, "SYNTHESIZE"):
			return "Foram 42 proposições.", nil
		case strings.HasPrefix(system, "FOLLOWUP"):
			return `["E em 2023?", "Quais foram os autores?"]`, nil
		default:
			return "", fmt.Errorf("unexpected system prompt: %.40s", system)
		}
	}
	q := singleRowQuerier()
	p := testPipeline(t, llm, q)

	var stages []ProgressStage
	result, err := p.RunWithProgress(context.Background(), "Quantas proposições foram apresentadas em 2024?", nil, func(progress Progress) {
		stages = append(stages, progress.Stage)
	})
	require.NoError(t, err)

	require.Equal(t, ClassificationDataAnalysis, result.Classification)
	require.Len(t, result.DataQuestions, 1)
	require.Len(t, result.ExecutedQueries, 1)
	require.Empty(t, result.ExecutedQueries[0].Result.Error)
	require.Equal(t, 1, result.ExecutedQueries[0].Result.Count)
	require.Equal(t, "Foram 42 proposições.", result.Answer)
	require.Equal(t, []string{"E em 2023?", "Quais foram os autores?"}, result.FollowUpQuestions)

	require.Equal(t, StageClassifying, stages[0])
	require.Contains(t, stages, StageDecomposing)
	require.Contains(t, stages, StageDecomposed)
	require.Contains(t, stages, StageExecuting)
	require.Contains(t, stages, StageSynthesizing)
	require.Equal(t, StageComplete, stages[len(stages)-1])

	// The generation system prompt is cached across parallel calls.
	llm.mu.Lock()
	defer llm.mu.Unlock()
	generateCalls := 0
	for _, call := range llm.calls {
		if strings.HasPrefix(call.System, "GENERATE") {
			generateCalls++
			require.True(t, call.Cached)
			require.Contains(t, call.System, "## Database Schema")
		}
	}
	require.Equal(t, 1, generateCalls)
}

func TestPipelineRunConversational(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{}
	llm.complete = func(system, user string) (string, error) {
		switch {
		case strings.HasPrefix(system, "CLASSIFY"):
			return `{"classification": "conversational", "reasoning": "asks about the assistant"}`, nil
		case strings.HasPrefix(system, "RESPOND"):
			return "Posso responder perguntas sobre os dados legislativos.", nil
		case strings.HasPrefix(system, "FOLLOWUP"):
			return `["Quantas proposições foram apresentadas este ano?"]`, nil
		default:
			return "", fmt.Errorf("unexpected system prompt: %.40s", system)
		}
	}
	q := &fakeQuerier{query: func(sql string) (QueryResult, error) {
		return QueryResult{}, fmt.Errorf("querier must not be called")
	}}
	p := testPipeline(t, llm, q)

	result, err := p.Run(context.Background(), "O que você sabe fazer?")
	require.NoError(t, err)
	require.Equal(t, ClassificationConversational, result.Classification)
	require.Equal(t, "Posso responder perguntas sobre os dados legislativos.", result.Answer)
	require.Len(t, result.FollowUpQuestions, 1)
	require.Empty(t, result.DataQuestions)
	require.Empty(t, q.sqls)
}

func TestPipelineRunOutOfScope(t *testing.T) {
	t.Parallel()

	t.Run("uses the classifier's direct response", func(t *testing.T) {
		llm := &fakeLLM{complete: func(system, user string) (string, error) {
			return `{"classification": "out_of_scope", "reasoning": "weather", "direct_response": "Só respondo sobre dados legislativos."}`, nil
		}}
		p := testPipeline(t, llm, &fakeQuerier{})

		result, err := p.Run(context.Background(), "Vai chover amanhã?")
		require.NoError(t, err)
		require.Equal(t, ClassificationOutOfScope, result.Classification)
		require.Equal(t, "Só respondo sobre dados legislativos.", result.Answer)
		require.Empty(t, result.FollowUpQuestions)
	})

	t.Run("falls back to the default answer", func(t *testing.T) {
		llm := &fakeLLM{complete: func(system, user string) (string, error) {
			return `{"classification": "out_of_scope", "reasoning": "weather"}`, nil
		}}
		p := testPipeline(t, llm, &fakeQuerier{})

		result, err := p.Run(context.Background(), "Vai chover amanhã?")
		require.NoError(t, err)
		require.Equal(t, outOfScopeAnswer, result.Answer)
	})
}

func TestPipelineRunClassifyFailure(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{complete: func(system, user string) (string, error) {
		return "", fmt.Errorf("api down")
	}}
	p := testPipeline(t, llm, &fakeQuerier{})

	var last Progress
	_, err := p.RunWithProgress(context.Background(), "Quantas proposições?", nil, func(progress Progress) {
		last = progress
	})
	require.ErrorContains(t, err, "classify failed")
	require.Equal(t, StageError, last.Stage)
}

func TestPipelineRunDecomposeErrorIsUserFacing(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{}
	llm.complete = func(system, user string) (string, error) {
		switch {
		case strings.HasPrefix(system, "CLASSIFY"):
			return `{"classification": "data_analysis", "reasoning": "data"}`, nil
		case strings.HasPrefix(system, "DECOMPOSE"):
			return `{"data_questions": [], "error": "Especifique o período da consulta."}`, nil
		default:
			return "", fmt.Errorf("unexpected system prompt: %.40s", system)
		}
	}
	p := testPipeline(t, llm, &fakeQuerier{})

	_, err := p.Run(context.Background(), "Me dá uns números aí")
	require.EqualError(t, err, "Especifique o período da consulta.")
}

func TestPipelineRetryOnError(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{}
	llm.complete = func(system, user string) (string, error) {
		if strings.HasPrefix(system, "GENERATE") && strings.Contains(user, "Failed SQL") {
			return `{"sql": "SELECT nome FROM dim_parlamentar", "explanation": "fixed"}`, nil
		}
		return `{"sql": "SELECT nomee FROM dim_parlamentar", "explanation": "typo"}`, nil
	}
	q := &fakeQuerier{query: func(sql string) (QueryResult, error) {
		if strings.Contains(sql, "nomee") {
			return QueryResult{SQL: sql, Error: `Binder Error: column "nomee" not found`}, nil
		}
		return QueryResult{SQL: sql, Columns: []string{"nome"}, Rows: []map[string]any{{"nome": "Duarte Bechir"}}, Count: 1}, nil
	}}
	p := testPipeline(t, llm, q)

	executed := p.GenerateAndExecuteWithRetry(context.Background(), DataQuestion{Question: "Quais deputados?"})
	require.Empty(t, executed.Result.Error)
	require.Equal(t, "SELECT nome FROM dim_parlamentar", executed.GeneratedQuery.SQL)
	require.Equal(t, []string{"SELECT nomee FROM dim_parlamentar", "SELECT nome FROM dim_parlamentar"}, q.sqls)
}

func TestPipelineRetryExhaustion(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{complete: func(system, user string) (string, error) {
		return `{"sql": "SELECT broken FROM dim_parlamentar", "explanation": ""}`, nil
	}}
	q := &fakeQuerier{query: func(sql string) (QueryResult, error) {
		return QueryResult{SQL: sql, Error: "Binder Error: broken"}, nil
	}}
	p := testPipeline(t, llm, q)

	executed := p.GenerateAndExecuteWithRetry(context.Background(), DataQuestion{Question: "Quais deputados?"})
	require.Contains(t, executed.Result.Error, "Binder Error")
	// Initial attempt plus MaxRetries regenerations.
	require.Len(t, q.sqls, 4)
}

func TestPipelineGenerationFailure(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{complete: func(system, user string) (string, error) {
		return "", fmt.Errorf("api down")
	}}
	q := &fakeQuerier{}
	p := testPipeline(t, llm, q)

	executed := p.GenerateAndExecuteWithRetry(context.Background(), DataQuestion{Question: "Quais deputados?"})
	require.Contains(t, executed.Result.Error, "generation failed")
	require.Empty(t, q.sqls)
}

func TestPipelineZeroRowRegeneration(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{}
	llm.complete = func(system, user string) (string, error) {
		switch {
		case strings.HasPrefix(system, "You are analyzing"):
			return `{"is_suspicious": true, "reasoning": "accent missing", "suggestion": "use 'em exercício'"}`, nil
		case strings.Contains(user, "returned zero rows"):
			return `{"sql": "SELECT nome FROM dim_parlamentar WHERE situacao = 'em exercício'", "explanation": "fixed accent"}`, nil
		default:
			return `{"sql": "SELECT nome FROM dim_parlamentar WHERE situacao = 'em exercicio'", "explanation": "missing accent"}`, nil
		}
	}
	q := &fakeQuerier{query: func(sql string) (QueryResult, error) {
		if strings.Contains(sql, "exercício") {
			return QueryResult{SQL: sql, Columns: []string{"nome"}, Rows: []map[string]any{{"nome": "Beatriz Cerqueira"}}, Count: 1}, nil
		}
		return QueryResult{SQL: sql, Columns: []string{"nome"}, Count: 0}, nil
	}}
	p := testPipeline(t, llm, q)

	executed := p.GenerateAndExecuteWithRetry(context.Background(), DataQuestion{Question: "Quais deputados em exercício?"})
	require.Empty(t, executed.Result.Error)
	require.Equal(t, 1, executed.Result.Count)
	require.Contains(t, executed.GeneratedQuery.SQL, "em exercício")
	require.Len(t, q.sqls, 2)
}

func TestPipelineZeroRowsNotSuspicious(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{}
	llm.complete = func(system, user string) (string, error) {
		if strings.HasPrefix(system, "You are analyzing") {
			return `{"is_suspicious": false, "reasoning": "no CPIs that year is plausible"}`, nil
		}
		return `{"sql": "SELECT nome FROM dim_comissao WHERE tipo = 'CPI'", "explanation": ""}`, nil
	}
	q := &fakeQuerier{query: func(sql string) (QueryResult, error) {
		return QueryResult{SQL: sql, Columns: []string{"nome"}, Count: 0}, nil
	}}
	p := testPipeline(t, llm, q)

	executed := p.GenerateAndExecuteWithRetry(context.Background(), DataQuestion{Question: "Quais CPIs em 2024?"})
	require.Empty(t, executed.Result.Error)
	require.Equal(t, 0, executed.Result.Count)
	require.Len(t, q.sqls, 1)
}

func TestPipelineFollowUpFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{}
	llm.complete = func(system, user string) (string, error) {
		switch {
		case strings.HasPrefix(system, "CLASSIFY"):
			return `{"classification": "conversational", "reasoning": "chat"}`, nil
		case strings.HasPrefix(system, "RESPOND"):
			return "Olá!", nil
		case strings.HasPrefix(system, "FOLLOWUP"):
			return "", fmt.Errorf("api down")
		default:
			return "", fmt.Errorf("unexpected system prompt: %.40s", system)
		}
	}
	p := testPipeline(t, llm, &fakeQuerier{})

	result, err := p.Run(context.Background(), "Oi")
	require.NoError(t, err)
	require.Equal(t, "Olá!", result.Answer)
	require.Empty(t, result.FollowUpQuestions)
}
