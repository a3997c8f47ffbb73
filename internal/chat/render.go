package chat

import (
	"bytes"
	"html"
	"regexp"
	"time"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

// RenderThrottle is the minimum interval between repaints while a
// response is still streaming. The final render after stream end is
// never throttled.
const RenderThrottle = 150 * time.Millisecond

var (
	displayMathRegex = regexp.MustCompile(`(?s)\\\[\s*(.*?)\s*\\\]`)
	inlineMathRegex  = regexp.MustCompile(`(?s)\\\(\s*(.*?)\s*\\\)`)
)

// NormalizeMathDelimiters rewrites \[...\] and \(...\) math delimiters
// into the $$...$$ and $...$ forms the client-side math engine expects.
func NormalizeMathDelimiters(text string) string {
	text = displayMathRegex.ReplaceAllString(text, "$$$$${1}$$$$")
	text = inlineMathRegex.ReplaceAllString(text, "$$${1}$$")
	return text
}

// Renderer converts accumulated markdown text into display HTML. It
// always receives the cumulative text seen so far, not a delta.
type Renderer struct {
	md goldmark.Markdown
}

func NewRenderer() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(highlighting.WithStyle("github")),
			),
			goldmark.WithRendererOptions(goldmarkhtml.WithHardWraps()),
		),
	}
}

// Render converts markdown to HTML after normalizing math delimiters.
// If the markdown engine is unavailable or fails, the raw text is
// downgraded to escaped plain text instead of propagating the error.
func (r *Renderer) Render(text string) string {
	if r == nil || r.md == nil {
		return fallbackHTML(text)
	}
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(NormalizeMathDelimiters(text)), &buf); err != nil {
		return fallbackHTML(text)
	}
	return buf.String()
}

func fallbackHTML(text string) string {
	return "<pre>" + html.EscapeString(text) + "</pre>"
}

// Throttle gates repeated renders to at most one per interval.
type Throttle struct {
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: interval, now: time.Now}
}

// Ready reports whether enough time has passed since the last
// admitted render, and marks the window consumed when it has.
func (t *Throttle) Ready() bool {
	now := t.now()
	if now.Sub(t.last) > t.interval {
		t.last = now
		return true
	}
	return false
}
