package assistant

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plenariolabs/plenario/pkg/catalog"
	"github.com/plenariolabs/plenario/pkg/catalog/almg"
)

func TestLoadPrompts(t *testing.T) {
	t.Parallel()

	summary := catalog.Summary(&almg.Schema)
	p, err := LoadPrompts(summary)
	require.NoError(t, err)

	for name, prompt := range map[string]string{
		"CatalogSummary": p.CatalogSummary,
		"Classify":       p.Classify,
		"Decompose":      p.Decompose,
		"Generate":       p.Generate,
		"Respond":        p.Respond,
		"Slack":          p.Slack,
		"Synthesize":     p.Synthesize,
		"FollowUp":       p.FollowUp,
	} {
		require.NotEmpty(t, prompt, "prompt %s", name)
	}

	// The generated inventory is appended to the conventions prose and
	// substituted into the prompts that reason over the catalog.
	require.Contains(t, p.CatalogSummary, "Convenções de modelagem")
	require.Contains(t, p.CatalogSummary, "fat_votacao")
	for _, prompt := range []string{p.Classify, p.Decompose} {
		require.NotContains(t, prompt, "{{CATALOG_SUMMARY}}")
		require.Contains(t, prompt, "dim_parlamentar")
	}

	// The other prompts never carried the placeholder.
	require.NotContains(t, p.Generate, "{{CATALOG_SUMMARY}}")
	require.NotContains(t, p.Synthesize, "{{CATALOG_SUMMARY}}")
}

func TestLoadPromptsWithoutSummary(t *testing.T) {
	t.Parallel()

	p, err := LoadPrompts("")
	require.NoError(t, err)
	require.NotEmpty(t, p.CatalogSummary)
	require.NotContains(t, p.Classify, "{{CATALOG_SUMMARY}}")
}
