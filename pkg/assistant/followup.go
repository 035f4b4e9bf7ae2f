package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// FollowUps generates suggested follow-up questions based on the conversation.
func (p *Pipeline) FollowUps(ctx context.Context, userQuestion string, answer string) ([]string, error) {
	systemPrompt := p.cfg.Prompts.FollowUp

	userPrompt := fmt.Sprintf("User question: %s\n\nAnswer provided:\n%s", userQuestion, answer)

	response, err := p.cfg.LLM.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("LLM completion failed: %w", err)
	}

	// The response is a JSON array, possibly wrapped in a markdown code block
	response = strings.TrimSpace(response)
	if strings.HasPrefix(response, "```") {
		lines := strings.Split(response, "\n")
		if len(lines) > 2 {
			response = strings.Join(lines[1:len(lines)-1], "\n")
		}
	}

	var questions []string
	if err := json.Unmarshal([]byte(response), &questions); err != nil {
		// If parsing fails, return no suggestions rather than an error
		p.log.Info("assistant: failed to parse follow-up questions", "error", err, "response", response)
		return nil, nil
	}

	// Limit to 3 questions max
	if len(questions) > 3 {
		questions = questions[:3]
	}

	return questions, nil
}
