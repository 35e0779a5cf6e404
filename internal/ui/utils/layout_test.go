package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncatePath(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		width int
		want  string
	}{
		{"fits", "/a/b.txt", 20, "/a/b.txt"},
		{"keeps file name", "/very/long/directory/name/file.txt", 20, "...ory/name/file.txt"},
		{"long file name", "/dir/an_extremely_long_file_name.txt", 20, "...ong_file_name.txt"},
		{"tiny width", "/dir/file.txt", 5, "/d..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncatePath(tt.path, tt.width)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len(got), tt.width)
		})
	}
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", TruncateString("abc", 3))
	assert.Equal(t, "ab...", TruncateString("abcdef", 5))
	assert.Equal(t, "..", TruncateString("abcdef", 2))
	assert.Equal(t, "", TruncateString("abcdef", 0))
}
