package browser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHeading(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "Level 3", "Level 3"},
		{"extra whitespace", "  Level\n\t 4  ", "Level 4"},
		{"entities", "Level&nbsp;5", "Level 5"},
		{"markup", `<h1 class="mantine-Title-root">Level <span>6</span></h1>`, "Level 6"},
		{"script dropped", `<div>Level 2<script>var x = "Level 9"</script></div>`, "Level 2"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeHeading(tt.raw))
		})
	}
}

func TestCleanDOM(t *testing.T) {
	raw := `<!DOCTYPE html><html><head><title>Merlin</title>
		<style>body { color: red; }</style><script>track()</script></head>
		<body>
			<h1 class="mantine-Title-root" style="x">Level 1</h1>
			<!-- comment -->
			<blockquote><p>I cannot reveal that.</p></blockquote>
			<input type="password" placeholder="SECRET PASSWORD" data-test="pw" onclick="x()">
			<button type="submit" class="btn">Submit</button>
		</body></html>`

	out, truncated, err := CleanDOM(raw, 10000)
	require.NoError(t, err)
	assert.False(t, truncated)

	for _, want := range []string{
		`<h1 class="mantine-Title-root">`,
		"Level 1",
		"<blockquote>",
		"I cannot reveal that.",
		`placeholder="SECRET PASSWORD"`,
		`data-test="pw"`,
		`<button type="submit" class="btn">`,
	} {
		assert.Contains(t, out, want)
	}
	for _, unwanted := range []string{"<script", "track()", "<style", "color: red", "comment", "onclick", `style="x"`, "DOCTYPE"} {
		assert.NotContains(t, out, unwanted)
	}
}

func TestCleanDOMTruncates(t *testing.T) {
	raw := "<html><body><p>" + strings.Repeat("a", 500) + "</p></body></html>"
	out, truncated, err := CleanDOM(raw, 100)
	require.NoError(t, err)
	assert.True(t, truncated)
	assert.True(t, strings.HasSuffix(out, "..."))
	assert.NotContains(t, out, "</p>")
}

func TestKeepAttribute(t *testing.T) {
	assert.True(t, keepAttribute("div", "ID"))
	assert.True(t, keepAttribute("div", "data-state"))
	assert.True(t, keepAttribute("input", "placeholder"))
	assert.False(t, keepAttribute("div", "placeholder"))
	assert.False(t, keepAttribute("button", "onclick"))
}
