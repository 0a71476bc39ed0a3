package telegram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/chronobot/internal/tenant"
)

func TestSanitizeHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "   ", ""},
		{"plain text", "hello", "hello"},
		{"allowed tags kept", "<b>bold</b> <i>it</i> <u>u</u> <s>s</s>", "<b>bold</b> <i>it</i> <u>u</u> <s>s</s>"},
		{"ampersand escaped", "a & b", "a &amp; b"},
		{"stray angle bracket", "i <3 go", "i &lt;3 go"},
		{"unknown tag unwrapped", "<font>red</font> text", "red text"},
		{"script dropped", "hi<script>alert(1)</script>", "hi"},
		{"br becomes newline", "a<br>b", "a\nb"},
		{"paragraphs", "<p>one</p><p>two</p>", "one\ntwo"},
		{"safe link", `<a href="https://example.org/x">go</a>`, `<a href="https://example.org/x">go</a>`},
		{"tg link", `<a href="tg://resolve?domain=chat">chat</a>`, `<a href="tg://resolve?domain=chat">chat</a>`},
		{"javascript link unwrapped", `<a href="javascript:alert(1)">x</a>`, "x"},
		{"link without href", "<a>x</a>", "x"},
		{"spoiler span", `<span class="tg-spoiler">secret</span>`, "<tg-spoiler>secret</tg-spoiler>"},
		{"plain span", `<span class="x">y</span>`, "y"},
		{"code language", `<pre><code class="language-go">x := 1</code></pre>`, `<pre><code class="language-go">x := 1</code></pre>`},
		{"code without class", "<code>ls</code>", "<code>ls</code>"},
		{"nested", "<b><i>both</i></b>", "<b><i>both</i></b>"},
		{"comment dropped", "a<!-- hidden -->b", "ab"},
		{"nfc", "cafe\u0301", "caf\u00e9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeHTML(tt.in))
		})
	}
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "", PlainText(""))

	out := PlainText(`<b>Rules</b> are <a href="https://example.org/rules">here</a>`)
	assert.Contains(t, out, "Rules")
	assert.Contains(t, out, "here")
	assert.Contains(t, out, "https://example.org/rules")
	assert.NotContains(t, out, "<b>")
	assert.NotContains(t, out, "<a")

	multi := PlainText("line one\nline two")
	assert.Contains(t, multi, "line one")
	assert.Contains(t, multi, "line two")
	assert.Contains(t, multi, "\n")
}

func TestRender(t *testing.T) {
	r := Render(tenant.Content{
		Text: "<p>Welcome</p>",
		Buttons: [][]tenant.URLButton{
			{{Text: "Rules", URL: "https://example.org/rules"}, {Text: "FAQ", URL: "https://example.org/faq"}},
			{},
			{{Text: "Chat", URL: "tg://resolve?domain=x"}},
		},
	})

	assert.Equal(t, "Welcome", r.HTML)
	assert.Equal(t, "Welcome", r.Plain)
	require.NotNil(t, r.Keyboard)
	require.Len(t, r.Keyboard.InlineKeyboard, 2)
	assert.Len(t, r.Keyboard.InlineKeyboard[0], 2)
	assert.Equal(t, "FAQ", r.Keyboard.InlineKeyboard[0][1].Text)
	assert.Equal(t, "tg://resolve?domain=x", r.Keyboard.InlineKeyboard[1][0].URL)
}

func TestBuildKeyboard_Empty(t *testing.T) {
	assert.Nil(t, buildKeyboard(nil))
	assert.Nil(t, buildKeyboard([][]tenant.URLButton{{}, {}}))
}
