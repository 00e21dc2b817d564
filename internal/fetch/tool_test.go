package fetch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestToolBinSelection(t *testing.T) {
	tool := NewTool("yt-dlp", "gallery-dl", zap.NewNop())

	tests := []struct {
		url  string
		want string
	}{
		{"https://www.youtube.com/watch?v=abc", "yt-dlp"},
		{"https://youtu.be/abc", "yt-dlp"},
		{"https://vimeo.com/12345", "yt-dlp"},
		{"https://www.instagram.com/p/abc/", "gallery-dl"},
		{"https://instagram.com/p/abc/", "gallery-dl"},
		{"https://www.flickr.com/photos/u/1", "gallery-dl"},
		{"https://notinstagram.com/p/abc", "yt-dlp"},
		{"::not a url::", "yt-dlp"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tool.binFor(tt.url), "url %s", tt.url)
	}
}

func TestDiagnosticPreference(t *testing.T) {
	err := errors.New("exit status 1")

	assert.Equal(t, "ERROR: 404", diagnostic("ERROR: 404\n", "some stdout", err))
	assert.Equal(t, "some stdout", diagnostic("  ", "some stdout", err))
	assert.Equal(t, "exit status 1", diagnostic("", "", err))
}
