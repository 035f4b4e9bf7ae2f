// Package prompts embeds the assistant prompt templates.
package prompts

import "embed"

//go:embed *.md
var PromptsFS embed.FS
