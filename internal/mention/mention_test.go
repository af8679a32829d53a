package mention

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	got := Parse("hi @[Jane Doe](12) and @[Bob](7), again @[Jane Doe](12)")
	require.Len(t, got, 2)
	assert.Equal(t, Mention{UserID: 12, Name: "Jane Doe"}, got[0])
	assert.Equal(t, Mention{UserID: 7, Name: "Bob"}, got[1])
	assert.Equal(t, []int64{12, 7}, UserIDs("hi @[Jane Doe](12) and @[Bob](7)"))
	assert.Empty(t, Parse("no mentions @[broken](x)"))
}

func TestToken(t *testing.T) {
	assert.Equal(t, "@[Jane](3)", Token("Jane", 3))
	assert.Equal(t, []int64{3}, UserIDs(Token("Jane", 3)))
}

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "  ", ""},
		{"plain", "hello", "hello"},
		{"escapes", "<b>x</b>", "&lt;b&gt;x&lt;/b&gt;"},
		{"mention", "ping @[Jane](4)", `ping <span class="mention-tag">@Jane</span>`},
		{
			"url",
			"see https://example.org/a?b=1 now",
			`see <a href="https://example.org/a?b=1" target="_blank" rel="noopener noreferrer">https://example.org/a?b=1</a> now`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.in))
		})
	}
}
