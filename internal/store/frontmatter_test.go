package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrontmatter(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Frontmatter
		body    string
		wantErr bool
	}{
		{
			name:    "no header",
			content: "# Title\n\nbody\n",
			body:    "# Title\n\nbody\n",
		},
		{
			name:    "title and tags",
			content: "---\ntitle: Hello\ntags: [a, b]\n---\nbody\n",
			want:    Frontmatter{Title: "Hello", Tags: []string{"a", "b"}},
			body:    "body\n",
		},
		{
			name:    "extra keys",
			content: "---\ntitle: Hello\nauthor: ann\n---\n",
			want:    Frontmatter{Title: "Hello", Extra: map[string]any{"author": "ann"}},
			body:    "",
		},
		{
			name:    "crlf delimiters",
			content: "---\r\ntitle: Hello\r\n---\r\nbody",
			want:    Frontmatter{Title: "Hello"},
			body:    "body",
		},
		{
			name:    "empty header",
			content: "---\n---\nbody",
			body:    "body",
		},
		{
			name:    "unterminated",
			content: "---\ntitle: Hello\n",
			wantErr: true,
		},
		{
			name:    "invalid yaml",
			content: "---\ntitle: [\n---\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fm, body, err := ParseFrontmatter([]byte(tt.content))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Title, fm.Title)
			assert.Equal(t, tt.want.Tags, fm.Tags)
			if tt.want.Extra != nil {
				assert.Equal(t, tt.want.Extra, fm.Extra)
			}
			assert.Equal(t, tt.body, string(body))
		})
	}
}
