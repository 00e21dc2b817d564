package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// gallery-dl handles image-gallery hosts that yt-dlp does not.
var galleryHosts = []string{"instagram.com", "flickr.com"}

// Tool invokes yt-dlp (or gallery-dl for gallery hosts) as a subprocess.
// Both tools accept `<url> --no-mtime -o <template>`, which is the whole
// contract this adapter depends on.
type Tool struct {
	ytDlpBin     string
	galleryDlBin string
	log          *zap.Logger
}

func NewTool(ytDlpBin, galleryDlBin string, log *zap.Logger) *Tool {
	if ytDlpBin == "" {
		ytDlpBin = "yt-dlp"
	}
	if galleryDlBin == "" {
		galleryDlBin = "gallery-dl"
	}
	return &Tool{ytDlpBin: ytDlpBin, galleryDlBin: galleryDlBin, log: log}
}

func (t *Tool) Fetch(ctx context.Context, rawURL, outputTemplate string) error {
	bin := t.binFor(rawURL)

	cmd := exec.CommandContext(ctx, bin, rawURL, "--no-mtime", "-o", outputTemplate)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	t.log.Info("executing fetch tool",
		zap.String("bin", bin),
		zap.String("url", rawURL),
		zap.String("output", outputTemplate))

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", bin, err, diagnostic(stderr.String(), stdout.String(), err))
	}
	return nil
}

func (t *Tool) binFor(rawURL string) string {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = strings.ToLower(u.Hostname())
	}
	for _, g := range galleryHosts {
		if host == g || strings.HasSuffix(host, "."+g) {
			return t.galleryDlBin
		}
	}
	return t.ytDlpBin
}

// diagnostic picks the most specific available text: tool stderr, then
// stdout, then the exec error itself.
func diagnostic(stderr, stdout string, err error) string {
	if s := strings.TrimSpace(stderr); s != "" {
		return s
	}
	if s := strings.TrimSpace(stdout); s != "" {
		return s
	}
	return err.Error()
}
