package richtext

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// Renderer converts backend-authored Markdown (challenge instructions, series descriptions) into
// sanitized HTML fragments.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// NewRenderer builds a Renderer with GFM extensions and the UGC sanitizer policy.
func NewRenderer() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
	)
	policy := bluemonday.UGCPolicy()
	policy.RequireNoFollowOnLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	return &Renderer{md: md, policy: policy}
}

// HTML renders src to sanitized HTML. Empty input yields "".
func (r *Renderer) HTML(src string) (string, error) {
	if strings.TrimSpace(src) == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("richtext: render: %w", err)
	}
	return strings.TrimSpace(r.policy.Sanitize(buf.String())), nil
}

var (
	strictPolicy = bluemonday.StrictPolicy()
	blockBreaks  = regexp.MustCompile(`(?i)<br\s*/?>|</(p|li|div|h[1-6])>`)
)

// PlainText strips every tag from s, turning block boundaries and <br> into line breaks.
func PlainText(s string) string {
	if s == "" {
		return ""
	}
	s = blockBreaks.ReplaceAllString(s, "\n")
	return html.UnescapeString(strictPolicy.Sanitize(s))
}

// Lines splits text on line breaks, trimming each line and dropping empty ones.
func Lines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	parts := strings.Split(s, "\n")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
