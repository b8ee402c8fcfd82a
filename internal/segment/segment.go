// Package segment splits documents into sentence-level text units
package segment

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"

	"github.com/ambrosia-alliance/processor/internal/model"
)

// Segmenter splits text into sentences with whitespace normalised
type Segmenter struct {
	minLength int
	maxLength int
}

// New creates a segmenter. Sentences shorter than minLength are dropped;
// sentences longer than maxLength are split at word boundaries.
func New(cfg model.SegmentConfig) *Segmenter {
	s := &Segmenter{minLength: cfg.MinLength, maxLength: cfg.MaxLength}
	if s.minLength <= 0 {
		s.minLength = 10
	}
	if s.maxLength <= 0 {
		s.maxLength = 1000
	}
	return s
}

// abbreviations never end a sentence
var abbreviations = map[string]bool{
	"e.g.": true, "i.e.": true, "et al.": true, "al.": true, "vs.": true, "approx.": true,
	"dr.": true, "mr.": true, "mrs.": true, "ms.": true, "prof.": true, "fig.": true,
	"vol.": true, "ca.": true, "cf.": true, "resp.": true,
}

// Text segments plain text
func (s *Segmenter) Text(source, text string) []model.TextUnit {
	var units []model.TextUnit
	for _, para := range splitParagraphs(text) {
		for _, sentence := range splitSentences(para) {
			for _, chunk := range s.bound(sentence) {
				if len([]rune(chunk)) < s.minLength {
					continue
				}
				units = append(units, model.TextUnit{
					Text:   chunk,
					Origin: model.Origin{Source: source, Index: len(units)},
				})
			}
		}
	}
	return units
}

// HTML reduces an HTML document to its visible text and segments it
func (s *Segmenter) HTML(source, content string) ([]model.TextUnit, error) {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, err
	}
	return s.Text(source, extractVisibleText(doc)), nil
}

// extractVisibleText extracts text nodes from HTML, skipping scripts/styles.
// Block elements end a paragraph.
func extractVisibleText(n *html.Node) string {
	var buf strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe", "template":
				return
			}
		}

		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				buf.WriteString(text)
				buf.WriteString(" ")
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		if n.Type == html.ElementNode && isBlock(n.Data) {
			buf.WriteString("\n\n")
		}
	}

	walk(n)
	return buf.String()
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "li", "h1", "h2", "h3", "h4", "h5", "h6", "tr", "td", "th",
		"section", "article", "blockquote", "caption", "figcaption", "br", "table":
		return true
	}
	return false
}

// splitParagraphs splits on blank lines
func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var paras []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = normalize(p); p != "" {
			paras = append(paras, p)
		}
	}
	return paras
}

// splitSentences splits normalised text on terminators followed by whitespace,
// skipping known abbreviations and initials
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)

		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if r == '.' && endsWithAbbreviation(current.String()) {
			continue
		}
		if sentence := strings.TrimSpace(current.String()); sentence != "" {
			sentences = append(sentences, sentence)
		}
		current.Reset()
	}

	if sentence := strings.TrimSpace(current.String()); sentence != "" {
		sentences = append(sentences, sentence)
	}
	return sentences
}

func endsWithAbbreviation(s string) bool {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return false
	}
	last := strings.ToLower(fields[len(fields)-1])
	if abbreviations[last] {
		return true
	}
	if len(fields) > 1 && abbreviations[strings.ToLower(fields[len(fields)-2])+" "+last] {
		return true
	}
	// Single-letter initials such as "J." in "J. Smith".
	r := []rune(fields[len(fields)-1])
	return len(r) == 2 && unicode.IsUpper(r[0])
}

// bound splits an overlong sentence at word boundaries
func (s *Segmenter) bound(sentence string) []string {
	if len([]rune(sentence)) <= s.maxLength {
		return []string{sentence}
	}
	var chunks []string
	var current strings.Builder
	for _, word := range strings.Fields(sentence) {
		if current.Len() > 0 && len([]rune(current.String()))+1+len([]rune(word)) > s.maxLength {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
