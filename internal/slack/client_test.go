package slack

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSlackClientRemoveBotMention(t *testing.T) {
	t.Parallel()

	c := NewClient("xoxb-test", "", testLogger())
	c.setBotUserID("U0BOT")

	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "plain mention",
			text: "<@U0BOT> quantas proposições foram apresentadas em 2024?",
			want: "quantas proposições foram apresentadas em 2024?",
		},
		{
			name: "mention with username",
			text: "<@U0BOT|plenario> quem mais faltou?",
			want: "quem mais faltou?",
		},
		{
			name: "mention in the middle",
			text: "bom dia <@U0BOT> , tudo bem?",
			want: "bom dia  , tudo bem?",
		},
		{
			name: "other user mention is kept",
			text: "<@U0BOT> pergunte ao <@U0OTHER>",
			want: "pergunte ao <@U0OTHER>",
		},
		{
			name: "no mention",
			text: "  sem menção aqui  ",
			want: "sem menção aqui",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, c.RemoveBotMention(tt.text))
		})
	}

	t.Run("uninitialized client only trims", func(t *testing.T) {
		t.Parallel()
		fresh := NewClient("xoxb-test", "", testLogger())
		require.Empty(t, fresh.BotUserID())
		require.Equal(t, "<@U0BOT> oi", fresh.RemoveBotMention("  <@U0BOT> oi  "))
	})
}
