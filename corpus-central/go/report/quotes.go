package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.afterglow.org/research/corpus-central/go/sources"
	"go.afterglow.org/research/corpus-central/go/types"
	"go.afterglow.org/research/go/skerr"
	"go.afterglow.org/research/go/util"
)

const (
	maxQuotesPerCategory = 3
	maxQuoteWords        = 100
	maxQuoteSentences    = 3
)

// QuoteExample is one representative quote for a root-cause category. Author
// identities never appear; record text is quoted as collected.
type QuoteExample struct {
	Category string `json:"category"`
	Source   string `json:"source"`
	DataID   string `json:"data_id"`
	Quote    string `json:"quote"`
	URL      string `json:"url"`
}

// qualitativeExamples picks up to three quotes per root-cause category, in
// category display order, keeping corpus order within a category.
func qualitativeExamples(records []types.TaggedRecord) []QuoteExample {
	byCategory := map[string][]QuoteExample{}
	seen := map[string]bool{}
	for _, r := range records {
		category := r.RootCauseCategory
		if category == "" || len(byCategory[category]) >= maxQuotesPerCategory {
			continue
		}
		quote := buildQuote(r.RawText, maxQuoteWords)
		if quote == "" {
			continue
		}
		byCategory[category] = append(byCategory[category], QuoteExample{
			Category: category,
			Source:   string(r.Source),
			DataID:   r.DataID,
			Quote:    quote,
			URL:      r.URL,
		})
		seen[category] = true
	}
	out := []QuoteExample{}
	for _, category := range orderedCauses(seen) {
		out = append(out, byCategory[category]...)
	}
	return out
}

// buildQuote returns the leading sentences of the record text, before any
// appended comment tail, capped at maxWords words.
func buildQuote(raw string, maxWords int) string {
	text := raw
	if i := strings.Index(text, sources.CommentsSeparator); i >= 0 {
		text = text[:i]
	}
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return ""
	}
	quote := ""
	for i, s := range splitSentences(text) {
		if i >= maxQuoteSentences {
			break
		}
		candidate := s
		if quote != "" {
			candidate = quote + " " + s
		}
		if len(strings.Fields(candidate)) > maxWords {
			break
		}
		quote = candidate
	}
	if quote == "" {
		// The first sentence alone blows the cap; hard-truncate it.
		words := strings.Fields(text)
		quote = strings.Join(util.AtMost(words, maxWords), " ") + " ..."
	}
	return quote
}

// splitSentences splits on sentence-ending punctuation followed by a space
// or the end of the text, so decimals and version numbers survive.
func splitSentences(text string) []string {
	sentences := []string{}
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 < len(text) && text[i+1] != ' ' {
				continue
			}
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				sentences = append(sentences, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func writeQuotesMarkdown(path string, quotes []QuoteExample) error {
	return util.WithWriteFile(path, func(w io.Writer) error {
		fmt.Fprintf(w, "# Qualitative Examples\n")
		if len(quotes) == 0 {
			fmt.Fprintf(w, "\nNo records with usable text.\n")
			return nil
		}
		current := ""
		for _, q := range quotes {
			if q.Category != current {
				current = q.Category
				fmt.Fprintf(w, "\n## %s\n\n", current)
			}
			fmt.Fprintf(w, "> %s\n>\n> -- %s, `%s`, %s\n\n", q.Quote, q.Source, q.DataID, q.URL)
		}
		return nil
	})
}

func writeQuotesJSON(path string, quotes []QuoteExample) error {
	return util.WithWriteFile(path, func(w io.Writer) error {
		b, err := json.MarshalIndent(quotes, "", "  ")
		if err != nil {
			return skerr.Wrap(err)
		}
		_, err = w.Write(b)
		return skerr.Wrap(err)
	})
}
