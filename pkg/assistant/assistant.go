// Package assistant implements the multi-step question-answering pipeline
// over the plenario warehouse: classify, decompose, generate, execute,
// synthesize. Each step is a separate LLM call with its own prompt, and
// generated SQL always runs through a guarded querier, so a bad generation
// costs a retry rather than an unchecked statement.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Answer for out-of-scope questions when the classifier did not supply one.
const outOfScopeAnswer = "Posso ajudar com perguntas sobre os dados legislativos da Assembleia: " +
	"proposições, autorias, votações, presenças, normas jurídicas, tramitações e correspondências. " +
	"Sua pergunta está fora desse escopo."

// Pipeline orchestrates the multi-step question-answering process.
type Pipeline struct {
	cfg *Config
	log *slog.Logger
}

// New creates a new Pipeline.
func New(cfg *Config) (*Pipeline, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.LLM == nil {
		return nil, fmt.Errorf("LLM client is required")
	}
	if cfg.Querier == nil {
		return nil, fmt.Errorf("querier is required")
	}
	if cfg.SchemaFetcher == nil {
		return nil, fmt.Errorf("schema fetcher is required")
	}
	if cfg.Prompts == nil {
		return nil, fmt.Errorf("prompts are required")
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	return &Pipeline{
		cfg: cfg,
		log: cfg.Logger,
	}, nil
}

// Run executes the full pipeline for a user question.
func (p *Pipeline) Run(ctx context.Context, userQuestion string) (*Result, error) {
	return p.RunWithHistory(ctx, userQuestion, nil)
}

// RunWithHistory executes the full pipeline with conversation context.
func (p *Pipeline) RunWithHistory(ctx context.Context, userQuestion string, history []ConversationMessage) (*Result, error) {
	return p.RunWithProgress(ctx, userQuestion, history, nil)
}

// RunWithProgress executes the full pipeline with progress callbacks.
// The callbacks drive streaming surfaces (SSE events, Slack status updates).
func (p *Pipeline) RunWithProgress(ctx context.Context, userQuestion string, history []ConversationMessage, onProgress ProgressCallback) (*Result, error) {
	notify := func(progress Progress) {
		if onProgress != nil {
			onProgress(progress)
		}
	}

	result := &Result{
		UserQuestion: userQuestion,
	}

	// Pre-step: classify the question to route it appropriately.
	notify(Progress{Stage: StageClassifying})
	classification, err := p.ClassifyWithHistory(ctx, userQuestion, history)
	if err != nil {
		notify(Progress{Stage: StageError, Error: err})
		return nil, fmt.Errorf("classify failed: %w", err)
	}
	result.Classification = classification.Classification
	p.log.Info("assistant: question classified",
		"classification", classification.Classification,
		"reasoning", classification.Reasoning)

	switch classification.Classification {
	case ClassificationConversational:
		answer, err := p.RespondWithHistory(ctx, userQuestion, history)
		if err != nil {
			notify(Progress{Stage: StageError, Classification: result.Classification, Error: err})
			return nil, fmt.Errorf("respond failed: %w", err)
		}
		result.Answer = answer
		p.addFollowUps(ctx, result)
		notify(Progress{Stage: StageComplete, Classification: result.Classification})
		return result, nil

	case ClassificationOutOfScope:
		if classification.DirectResponse != "" {
			result.Answer = classification.DirectResponse
		} else {
			result.Answer = outOfScopeAnswer
		}
		notify(Progress{Stage: StageComplete, Classification: result.Classification})
		return result, nil
	}

	// Step 1: decompose the question into data questions.
	notify(Progress{Stage: StageDecomposing, Classification: result.Classification})
	dataQuestions, err := p.DecomposeWithHistory(ctx, userQuestion, history)
	if err != nil {
		notify(Progress{Stage: StageError, Classification: result.Classification, Error: err})
		return nil, err // Error message is already user-friendly
	}
	result.DataQuestions = dataQuestions
	p.log.Info("assistant: decomposed into data questions", "count", len(dataQuestions))
	notify(Progress{
		Stage:          StageDecomposed,
		Classification: result.Classification,
		DataQuestions:  dataQuestions,
		QueriesTotal:   len(dataQuestions),
	})

	// Steps 2 & 3: generate SQL and execute queries in parallel, with retries.
	notify(Progress{
		Stage:          StageExecuting,
		Classification: result.Classification,
		QueriesTotal:   len(dataQuestions),
	})
	executedQueries := make([]ExecutedQuery, len(dataQuestions))
	var wg sync.WaitGroup
	var progressMu sync.Mutex
	queriesDone := 0

	for i, dq := range dataQuestions {
		wg.Add(1)
		go func(idx int, question DataQuestion) {
			defer wg.Done()
			executedQueries[idx] = p.GenerateAndExecuteWithRetry(ctx, question)

			progressMu.Lock()
			queriesDone++
			notify(Progress{
				Stage:          StageExecuting,
				Classification: result.Classification,
				QueriesTotal:   len(dataQuestions),
				QueriesDone:    queriesDone,
			})
			progressMu.Unlock()
		}(i, dq)
	}
	wg.Wait()

	generatedQueries := make([]GeneratedQuery, len(executedQueries))
	successCount := 0
	for i, eq := range executedQueries {
		generatedQueries[i] = eq.GeneratedQuery
		if eq.Result.Error == "" {
			successCount++
		}
	}
	result.GeneratedQueries = generatedQueries
	result.ExecutedQueries = executedQueries
	p.log.Info("assistant: queries completed", "total", len(executedQueries), "success", successCount)

	// Step 4: synthesize the answer.
	notify(Progress{
		Stage:          StageSynthesizing,
		Classification: result.Classification,
		QueriesTotal:   len(dataQuestions),
		QueriesDone:    queriesDone,
	})
	answer, err := p.Synthesize(ctx, userQuestion, executedQueries)
	if err != nil {
		notify(Progress{Stage: StageError, Classification: result.Classification, Error: err})
		return nil, fmt.Errorf("synthesize failed: %w", err)
	}
	result.Answer = answer

	// Step 5: follow-up suggestions, best effort.
	p.addFollowUps(ctx, result)

	notify(Progress{Stage: StageComplete, Classification: result.Classification})
	return result, nil
}

// addFollowUps attaches follow-up suggestions to the result. Failures are
// logged and swallowed; an answer without suggestions is still an answer.
func (p *Pipeline) addFollowUps(ctx context.Context, result *Result) {
	followUps, err := p.FollowUps(ctx, result.UserQuestion, result.Answer)
	if err != nil {
		p.log.Info("assistant: follow-up generation failed", "error", err)
		return
	}
	result.FollowUpQuestions = followUps
}

// GenerateAndExecuteWithRetry generates SQL for a data question and executes
// it, regenerating with error context on failure. Zero-row results get a
// second look: the model judges whether an empty answer is plausible for the
// question, and suspicious ones are regenerated once with its reasoning.
func (p *Pipeline) GenerateAndExecuteWithRetry(ctx context.Context, dataQuestion DataQuestion) ExecutedQuery {
	generated, err := p.Generate(ctx, dataQuestion)
	if err != nil {
		return ExecutedQuery{
			GeneratedQuery: GeneratedQuery{DataQuestion: dataQuestion},
			Result:         QueryResult{Error: fmt.Sprintf("generation failed: %v", err)},
		}
	}

	executed := p.Execute(ctx, generated)

	if executed.Result.Error == "" {
		if executed.Result.Count == 0 {
			executed = p.handleZeroRowResult(ctx, dataQuestion, executed)
		}
		return executed
	}

	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		p.log.Info("assistant: retrying failed query",
			"question", dataQuestion.Question,
			"attempt", attempt,
			"error", executed.Result.Error)

		regenerated, err := p.RegenerateWithError(ctx, dataQuestion, executed.GeneratedQuery.SQL, executed.Result.Error)
		if err != nil {
			// Regeneration failed, keep the previous error
			continue
		}

		executed = p.Execute(ctx, regenerated)

		if executed.Result.Error == "" {
			p.log.Info("assistant: retry succeeded",
				"question", dataQuestion.Question,
				"attempt", attempt)
			if executed.Result.Count == 0 {
				executed = p.handleZeroRowResult(ctx, dataQuestion, executed)
			}
			return executed
		}
	}

	p.log.Info("assistant: all retries failed",
		"question", dataQuestion.Question,
		"error", executed.Result.Error)
	return executed
}

// handleZeroRowResult analyzes a zero-row result and potentially regenerates the query.
func (p *Pipeline) handleZeroRowResult(ctx context.Context, dataQuestion DataQuestion, executed ExecutedQuery) ExecutedQuery {
	analysis, err := p.AnalyzeZeroResult(ctx, dataQuestion, executed.GeneratedQuery.SQL)
	if err != nil {
		p.log.Info("assistant: zero-row analysis failed", "error", err)
		return executed
	}

	p.log.Info("assistant: zero-row analysis",
		"question", dataQuestion.Question,
		"suspicious", analysis.IsSuspicious,
		"reasoning", analysis.Reasoning)

	if !analysis.IsSuspicious {
		return executed
	}

	p.log.Info("assistant: regenerating query due to suspicious zero rows",
		"question", dataQuestion.Question,
		"suggestion", analysis.Suggestion)

	regenerated, err := p.RegenerateWithZeroRows(ctx, dataQuestion, executed.GeneratedQuery.SQL, analysis)
	if err != nil {
		p.log.Info("assistant: zero-row regeneration failed", "error", err)
		return executed
	}

	newExecuted := p.Execute(ctx, regenerated)

	// Keep the new result even if it is still empty - we tried.
	p.log.Info("assistant: regenerated query executed",
		"question", dataQuestion.Question,
		"newRowCount", newExecuted.Result.Count)

	return newExecuted
}
