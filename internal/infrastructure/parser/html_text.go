package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var spaceRun = regexp.MustCompile(`[ \t\f\r\v\x{00a0}]+`)

const blockSelector = "p, div, li, h1, h2, h3, h4, h5, h6, tr, blockquote, section, article"

// PlainText converts an HTML fragment (as often found in feed descriptions) to readable text.
// Block elements become line breaks, scripts and styles are dropped, entities are decoded.
// Input without markup is only whitespace-normalised.
func PlainText(input string) string {
	if !strings.ContainsAny(input, "<&") {
		return normalize(input)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(input))
	if err != nil {
		return normalize(input)
	}

	doc.Find("script, style, noscript").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	return normalize(doc.Text())
}

func normalize(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
		if line == "" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
