package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/plenariolabs/plenario/pkg/assistant"
)

// Returned by the chat endpoints when no LLM provider is configured.
const noLLMError = "O assistente não está configurado com um provedor de LLM. " +
	"Defina ANTHROPIC_API_KEY ou configure LLM_PROVIDER."

const heartbeatInterval = 15 * time.Second

// ChatMessage represents a single message in conversation history.
type ChatMessage struct {
	Role            string   `json:"role"` // "user" or "assistant"
	Content         string   `json:"content"`
	ExecutedQueries []string `json:"executedQueries,omitempty"` // SQL from previous turns
}

// ChatRequest is the incoming request for a chat message.
type ChatRequest struct {
	Message string        `json:"message"`
	History []ChatMessage `json:"history"`
}

// DataQuestionResponse represents a decomposed data question.
type DataQuestionResponse struct {
	Question  string `json:"question"`
	Rationale string `json:"rationale"`
}

// GeneratedQueryResponse represents a generated SQL query.
type GeneratedQueryResponse struct {
	Question    string `json:"question"`
	SQL         string `json:"sql"`
	Explanation string `json:"explanation"`
}

// ExecutedQueryResponse represents an executed query with results.
type ExecutedQueryResponse struct {
	Question string   `json:"question"`
	SQL      string   `json:"sql"`
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	Count    int      `json:"count"`
	Error    string   `json:"error,omitempty"`
}

// ChatResponse is the full pipeline result returned to the UI.
type ChatResponse struct {
	// The final synthesized answer
	Answer string `json:"answer"`

	// Pipeline steps (for transparency)
	DataQuestions    []DataQuestionResponse   `json:"dataQuestions,omitempty"`
	GeneratedQueries []GeneratedQueryResponse `json:"generatedQueries,omitempty"`
	ExecutedQueries  []ExecutedQueryResponse  `json:"executedQueries,omitempty"`

	// Suggested follow-up questions
	FollowUpQuestions []string `json:"followUpQuestions,omitempty"`

	// Error if pipeline failed
	Error string `json:"error,omitempty"`
}

func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	if s.cfg.Pipeline == nil {
		s.writeJSON(w, ChatResponse{Error: noLLMError})
		return
	}

	result, err := s.cfg.Pipeline.RunWithHistory(r.Context(), req.Message, convertHistory(req.History))
	if err != nil {
		// Pipeline errors are already phrased for the user
		s.log.Error("api: chat pipeline failed", "error", err)
		s.writeJSON(w, ChatResponse{Error: err.Error()})
		return
	}

	s.writeJSON(w, convertPipelineResult(result))
}

// chatStreamHandler runs the pipeline with SSE progress events so the UI
// can narrate the steps while the answer is being prepared.
func (s *Server) chatStreamHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	// The progress callback and the heartbeat ticker write from different
	// goroutines, so SSE writes are serialized.
	var sendMu sync.Mutex
	sendEvent := func(eventType string, data any) {
		sendMu.Lock()
		defer sendMu.Unlock()

		jsonData, err := json.Marshal(data)
		if err != nil {
			s.log.Error("api: failed to marshal SSE event data", "eventType", eventType, "error", err)
			errorData, _ := json.Marshal(map[string]string{"error": "Failed to serialize response"})
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", string(errorData))
			flusher.Flush()
			return
		}
		s.log.Debug("api: sending SSE event", "eventType", eventType, "dataLen", len(jsonData))
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, string(jsonData))
		flusher.Flush()
	}

	if s.cfg.Pipeline == nil {
		sendEvent("error", map[string]string{"error": noLLMError})
		return
	}

	ctx := r.Context()
	decomposedSent := false

	onProgress := func(progress assistant.Progress) {
		switch progress.Stage {
		case assistant.StageClassifying:
			sendEvent("status", map[string]string{"step": "classifying", "message": "Entendendo sua pergunta..."})
		case assistant.StageDecomposing:
			sendEvent("status", map[string]string{"step": "decomposing", "message": "Dividindo sua pergunta..."})
		case assistant.StageDecomposed:
			if decomposedSent || len(progress.DataQuestions) == 0 {
				return
			}
			questions := make([]DataQuestionResponse, 0, len(progress.DataQuestions))
			for _, dq := range progress.DataQuestions {
				questions = append(questions, DataQuestionResponse{
					Question:  dq.Question,
					Rationale: dq.Rationale,
				})
			}
			sendEvent("decomposed", map[string]any{
				"count":     len(questions),
				"questions": questions,
			})
			decomposedSent = true
		case assistant.StageExecuting:
			if progress.QueriesDone == 0 {
				sendEvent("status", map[string]string{"step": "executing", "message": fmt.Sprintf("Executando %d consultas...", progress.QueriesTotal)})
				return
			}
			sendEvent("query_progress", map[string]any{
				"completed": progress.QueriesDone,
				"total":     progress.QueriesTotal,
			})
		case assistant.StageSynthesizing:
			sendEvent("status", map[string]string{"step": "synthesizing", "message": "Preparando a resposta..."})
		}
	}

	// Heartbeats keep the connection alive through proxies during the
	// long synthesize call.
	heartbeatDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sendEvent("heartbeat", map[string]string{})
			case <-heartbeatDone:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	result, err := s.cfg.Pipeline.RunWithProgress(ctx, req.Message, convertHistory(req.History), onProgress)
	close(heartbeatDone)
	if err != nil {
		s.log.Error("api: chat pipeline failed", "error", err, "message", req.Message)
		sendEvent("error", map[string]string{"error": err.Error()})
		return
	}

	response := convertPipelineResult(result)
	s.log.Info("api: chat stream completed",
		"answerLen", len(response.Answer),
		"dataQuestionsCount", len(response.DataQuestions),
		"executedQueriesCount", len(response.ExecutedQueries),
		"followUpQuestionsCount", len(response.FollowUpQuestions),
	)
	sendEvent("done", response)
}

// CompleteRequest is the request for a simple LLM completion.
type CompleteRequest struct {
	Message string `json:"message"`
}

// CompleteResponse is the response from a simple LLM completion.
type CompleteResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// completeHandler serves single LLM completions without the full
// pipeline. The UI uses it for small tasks like naming sessions.
func (s *Server) completeHandler(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	if s.cfg.Completer == nil {
		s.writeJSON(w, CompleteResponse{Error: noLLMError})
		return
	}

	response, err := s.cfg.Completer.Complete(r.Context(),
		"Você é um assistente prestativo. Responda de forma concisa.", req.Message)
	if err != nil {
		s.writeJSON(w, CompleteResponse{Error: s.internalError("Completion failed", err)})
		return
	}

	s.writeJSON(w, CompleteResponse{Response: strings.TrimSpace(response)})
}

func convertHistory(history []ChatMessage) []assistant.ConversationMessage {
	var converted []assistant.ConversationMessage
	for _, msg := range history {
		converted = append(converted, assistant.ConversationMessage{
			Role:            msg.Role,
			Content:         msg.Content,
			ExecutedQueries: msg.ExecutedQueries,
		})
	}
	return converted
}

// convertPipelineResult converts the pipeline result to the API response
// format, flattening result rows into column-ordered arrays.
func convertPipelineResult(result *assistant.Result) ChatResponse {
	resp := ChatResponse{
		Answer:            result.Answer,
		FollowUpQuestions: result.FollowUpQuestions,
	}

	for _, dq := range result.DataQuestions {
		resp.DataQuestions = append(resp.DataQuestions, DataQuestionResponse{
			Question:  dq.Question,
			Rationale: dq.Rationale,
		})
	}

	for _, gq := range result.GeneratedQueries {
		resp.GeneratedQueries = append(resp.GeneratedQueries, GeneratedQueryResponse{
			Question:    gq.DataQuestion.Question,
			SQL:         gq.SQL,
			Explanation: gq.Explanation,
		})
	}

	for _, eq := range result.ExecutedQueries {
		eqr := ExecutedQueryResponse{
			Question: eq.GeneratedQuery.DataQuestion.Question,
			SQL:      eq.Result.SQL,
			Columns:  eq.Result.Columns,
			Count:    eq.Result.Count,
			Error:    eq.Result.Error,
		}

		for _, row := range eq.Result.Rows {
			rowData := make([]any, 0, len(eq.Result.Columns))
			for _, col := range eq.Result.Columns {
				rowData = append(rowData, sanitizeValue(row[col]))
			}
			eqr.Rows = append(eqr.Rows, rowData)
		}

		resp.ExecutedQueries = append(resp.ExecutedQueries, eqr)
	}

	return resp
}
