package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "plain paragraph", in: "<p>Hello world</p>", want: "Hello world"},
		{name: "line break", in: "<p>first<br>second</p>", want: "first\nsecond"},
		{name: "paragraphs", in: "<p>one</p><p>two</p>", want: "one\n\ntwo"},
		{
			name: "mention and hashtag",
			in:   `<p><span class="h-card"><a href="https://example.social/@bob" class="u-url mention">@<span>bob</span></a></span> see <a href="https://example.social/tags/go" class="mention hashtag">#<span>go</span></a></p>`,
			want: "@bob see #go",
		},
		{name: "entities", in: "<p>fish &amp; chips</p>", want: "fish & chips"},
		{name: "collapse blank runs", in: "<p>a</p>\n \n<p></p><p>b</p>", want: "a\n\nb"},
		{name: "collapse spaces", in: "<p>a  \t b</p>", want: "a b"},
		{name: "nfc", in: "<p>cafe\u0301</p>", want: "caf\u00e9"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTML{}.Normalize(tc.in))
		})
	}
}
