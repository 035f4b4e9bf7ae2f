package slack

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/slack-go/slack"
	slackutil "github.com/takara2314/slack-go-util"
)

// codeBlockPattern matches fenced code blocks, with or without a language
// specifier after the opening fence.
var codeBlockPattern = regexp.MustCompile("(?s)```[a-zA-Z]*\n?(.*?)```")

// headerPattern matches markdown headers (# to ######).
var headerPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)

// ConvertMarkdownToBlocks converts a markdown answer to Slack blocks.
// Returns nil when conversion fails; the caller then posts the plain text.
func ConvertMarkdownToBlocks(text string, log *slog.Logger) []slack.Block {
	// Code blocks are extracted first: the conversion library tends to
	// split them across blocks.
	if strings.Contains(text, "```") {
		return convertMarkdownWithCodeBlocks(text, log)
	}

	// The library drops nested list items. Plain mrkdwn keeps the
	// structure with literal dashes.
	if containsNestedList(text) {
		log.Debug("slack: nested list detected, converting to plain mrkdwn")
		return convertToMrkdwnSectionBlocks(text)
	}

	converted, err := slackutil.ConvertMarkdownTextToBlocks(text)
	if err != nil {
		log.Debug("slack: failed to convert markdown to blocks, posting plain text", "error", err)
		return nil
	}
	return SetExpandOnSectionBlocks(converted)
}

// SetExpandOnSectionBlocks sets expand=true on every section block so Slack
// never truncates an answer behind "see more". Multi-paragraph sections are
// split into one block per paragraph; code blocks and lists stay whole.
func SetExpandOnSectionBlocks(blocks []slack.Block) []slack.Block {
	if blocks == nil {
		return nil
	}

	var result []slack.Block
	for _, block := range blocks {
		section, ok := block.(*slack.SectionBlock)
		if !ok {
			result = append(result, block)
			continue
		}
		if section.Text == nil || section.Text.Text == "" {
			result = append(result, expandedSection(section, section.Text))
			continue
		}

		text := section.Text.Text
		atomic := strings.Contains(text, "```") ||
			!strings.Contains(text, "\n") ||
			containsListItems(text)
		if atomic {
			result = append(result, expandedSection(section, section.Text))
			continue
		}

		for _, para := range splitIntoParagraphs(text) {
			paraText := slack.NewTextBlockObject(section.Text.Type, para, false, false)
			result = append(result, &slack.SectionBlock{
				Type:    section.Type,
				Text:    paraText,
				BlockID: section.BlockID,
				Expand:  true,
			})
		}
	}
	return result
}

func expandedSection(section *slack.SectionBlock, text *slack.TextBlockObject) *slack.SectionBlock {
	return &slack.SectionBlock{
		Type:      section.Type,
		Text:      text,
		BlockID:   section.BlockID,
		Fields:    section.Fields,
		Accessory: section.Accessory,
		Expand:    true,
	}
}

// convertMarkdownWithCodeBlocks converts text containing fenced code blocks,
// keeping each code block in a single section.
func convertMarkdownWithCodeBlocks(text string, log *slog.Logger) []slack.Block {
	matches := codeBlockPattern.FindAllStringSubmatchIndex(text, -1)
	if matches == nil {
		// An unclosed fence; let the library have it.
		converted, err := slackutil.ConvertMarkdownTextToBlocks(text)
		if err != nil {
			log.Debug("slack: failed to convert markdown to blocks, posting plain text", "error", err)
			return nil
		}
		return SetExpandOnSectionBlocks(converted)
	}

	var result []slack.Block
	lastEnd := 0
	for _, match := range matches {
		if match[0] > lastEnd {
			before := strings.TrimSpace(text[lastEnd:match[0]])
			if before != "" {
				if blocks, err := slackutil.ConvertMarkdownTextToBlocks(before); err == nil {
					result = append(result, SetExpandOnSectionBlocks(blocks)...)
				}
			}
		}

		// Re-fence just the code content: Slack mrkdwn has no language
		// specifiers.
		code := "```\n" + text[match[2]:match[3]] + "```"
		result = append(result, &slack.SectionBlock{
			Type:   slack.MBTSection,
			Text:   slack.NewTextBlockObject(slack.MarkdownType, code, false, false),
			Expand: true,
		})

		lastEnd = match[1]
	}

	if lastEnd < len(text) {
		after := strings.TrimSpace(text[lastEnd:])
		if after != "" {
			if blocks, err := slackutil.ConvertMarkdownTextToBlocks(after); err == nil {
				result = append(result, SetExpandOnSectionBlocks(blocks)...)
			}
		}
	}

	return result
}

// convertToMrkdwnSectionBlocks converts markdown to plain mrkdwn section
// blocks, preserving list structure the conversion library would lose.
// Headers become Slack header blocks.
func convertToMrkdwnSectionBlocks(text string) []slack.Block {
	return convertTextWithHeaders(text, func(segment string) []slack.Block {
		mrkdwn := convertMarkdownToMrkdwn(segment)

		var blocks []slack.Block
		for _, para := range strings.Split(mrkdwn, "\n\n") {
			para = strings.TrimSpace(para)
			if para == "" {
				continue
			}
			blocks = append(blocks, &slack.SectionBlock{
				Type:   slack.MBTSection,
				Text:   slack.NewTextBlockObject(slack.MarkdownType, para, false, false),
				Expand: true,
			})
		}
		return blocks
	})
}

// convertTextWithHeaders turns markdown headers into Slack header blocks and
// hands the segments between them to convertNonHeader.
func convertTextWithHeaders(text string, convertNonHeader func(string) []slack.Block) []slack.Block {
	matches := headerPattern.FindAllStringSubmatchIndex(text, -1)
	if matches == nil {
		return convertNonHeader(text)
	}

	var blocks []slack.Block
	lastEnd := 0
	for _, match := range matches {
		if match[0] > lastEnd {
			before := strings.TrimSpace(text[lastEnd:match[0]])
			if before != "" {
				blocks = append(blocks, convertNonHeader(before)...)
			}
		}

		// match[4]:match[5] is the header text capture group.
		headerText := strings.TrimSpace(text[match[4]:match[5]])
		blocks = append(blocks, slack.NewHeaderBlock(
			slack.NewTextBlockObject(slack.PlainTextType, headerText, true, false),
		))

		lastEnd = match[1]
	}

	if lastEnd < len(text) {
		after := strings.TrimSpace(text[lastEnd:])
		if after != "" {
			blocks = append(blocks, convertNonHeader(after)...)
		}
	}

	return blocks
}

// convertMarkdownToMrkdwn rewrites standard markdown inline formatting as
// Slack mrkdwn. Headers are not handled here; convertTextWithHeaders
// extracts them into header blocks first.
func convertMarkdownToMrkdwn(text string) string {
	// Bold: **text** or __text__ -> *text*
	text = regexp.MustCompile(`\*\*([^*]+)\*\*`).ReplaceAllString(text, "*$1*")
	text = regexp.MustCompile(`__([^_]+)__`).ReplaceAllString(text, "*$1*")

	// Strikethrough: ~~text~~ -> ~text~
	text = regexp.MustCompile(`~~([^~]+)~~`).ReplaceAllString(text, "~$1~")

	// Links: [text](url) -> <url|text>. Inline code needs no conversion.
	text = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`).ReplaceAllString(text, "<$2|$1>")

	return text
}

// containsNestedList reports whether the text has indented list items.
func containsNestedList(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if len(line) >= 3 && (line[0] == ' ' || line[0] == '\t') && isListItem(line) {
			return true
		}
	}
	return false
}

func containsListItems(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if isListItem(line) {
			return true
		}
	}
	return false
}

// isListItem reports whether a line is a bullet or numbered list item.
func isListItem(line string) bool {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) > 1 && (trimmed[0] == '-' || trimmed[0] == '*') {
		if trimmed[1] == ' ' || trimmed[1] == '\t' {
			return true
		}
	}
	if len(trimmed) > 0 && trimmed[0] >= '0' && trimmed[0] <= '9' {
		for i := 1; i < len(trimmed) && i < 10; i++ {
			if trimmed[i] == '.' || trimmed[i] == ')' {
				return i+1 < len(trimmed) && (trimmed[i+1] == ' ' || trimmed[i+1] == '\t')
			}
			if trimmed[i] < '0' || trimmed[i] > '9' {
				break
			}
		}
	}
	return false
}

// splitIntoParagraphs splits text into paragraphs on blank lines, keeping
// consecutive list items together as one paragraph.
func splitIntoParagraphs(text string) []string {
	var paragraphs []string

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		var list []string
		var current strings.Builder
		flushList := func() {
			if len(list) > 0 {
				paragraphs = append(paragraphs, strings.Join(list, "\n"))
				list = nil
			}
		}
		flushText := func() {
			if current.Len() > 0 {
				paragraphs = append(paragraphs, strings.TrimSpace(current.String()))
				current.Reset()
			}
		}

		for _, line := range strings.Split(para, "\n") {
			if strings.TrimSpace(line) == "" {
				flushList()
				continue
			}
			if isListItem(line) {
				flushText()
				list = append(list, line)
				continue
			}
			flushList()
			if current.Len() > 0 {
				current.WriteString("\n")
			}
			current.WriteString(line)
		}
		flushList()
		flushText()
	}

	if len(paragraphs) == 0 {
		return []string{text}
	}
	return paragraphs
}

// SanitizeErrorMessage turns a raw pipeline error into a message fit for a
// Slack reply, with internal details stripped.
func SanitizeErrorMessage(errMsg string) string {
	if strings.Contains(errMsg, "429") ||
		strings.Contains(errMsg, "rate_limit_error") ||
		strings.Contains(errMsg, "rate limit") {
		return "Estou recebendo muitas solicitações no momento. Tente novamente em instantes."
	}

	if strings.Contains(errMsg, "connection closed") ||
		strings.Contains(errMsg, "connection reset") ||
		strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "broken pipe") ||
		strings.Contains(errMsg, "EOF") {
		return "Estou com dificuldade para acessar os serviços de dados. Tente novamente em instantes."
	}

	if strings.Contains(errMsg, "failed to execute query") ||
		strings.Contains(errMsg, "Binder Error") ||
		strings.Contains(errMsg, "Catalog Error") ||
		strings.Contains(errMsg, "Parser Error") {
		return "Tive um problema ao executar a consulta. Tente reformular sua pergunta."
	}

	if strings.Contains(errMsg, "API error") || strings.Contains(errMsg, "no text content") {
		return "Encontrei um erro ao processar sua solicitação. Tente novamente."
	}

	// Strip lines carrying internal details and keep whatever is left.
	var cleanLines []string
	for _, line := range strings.Split(errMsg, "\n") {
		if strings.Contains(line, "Request-ID:") ||
			strings.Contains(line, "request_id") ||
			strings.Contains(line, "https://") ||
			strings.Contains(line, `"type":"error"`) {
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		cleanLines = append(cleanLines, line)
	}
	if len(cleanLines) > 0 {
		return "Desculpe, encontrei um erro: " + strings.Join(cleanLines, " ")
	}
	return "Desculpe, encontrei um erro. Tente novamente."
}

// TruncateString shortens s to at most max runes, appending "..." when it
// cuts. Rune-safe so accented text never splits mid-character.
func TruncateString(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
