package report

import (
	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"

	"tlcrun/internal/check"
)

// HTML renders r as sanitized HTML.
func HTML(r *check.Result, opts Options) string {
	return RenderToHTML(Markdown(r, opts))
}

// RenderToHTML converts markdown text to HTML. Raw HTML in the input, which can
// come from checker output, is removed by the sanitizer.
func RenderToHTML(markdown string) string {
	unsafeHTML := blackfriday.Run(
		[]byte(markdown),
		blackfriday.WithExtensions(
			blackfriday.CommonExtensions|
				blackfriday.AutoHeadingIDs|
				blackfriday.Footnotes,
		),
	)

	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code", "pre", "span")
	policy.AllowAttrs("id").Matching(bluemonday.SpaceSeparatedTokens).OnElements("h1", "h2", "h3", "h4", "h5", "h6")

	return string(policy.SanitizeBytes(unsafeHTML))
}
