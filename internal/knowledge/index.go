// Package knowledge serves background facts to the conversation flow. A
// Markdown knowledge file is parsed into titled passages held in an
// immutable in-memory Index; Cache keeps the current Index fresh (TTL,
// explicit refresh, file watch) and never lets a failed reload discard the
// last good one.
//
// Scoring is Jaccard similarity between the query token set and a passage's
// token set, |Q ∩ P| / |Q ∪ P|, plus a bonus for query words found in the
// passage's section title.
package knowledge

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Passage is a ranked piece of knowledge.
type Passage struct {
	Title string
	Text  string
	Score float64
}

// titleWeight scales the fraction of query words found in a section title.
const titleWeight = 0.25

type Option func(*config)

type config struct {
	minParagraphRunes int
	stopwords         map[string]struct{}
	maxDocs           int
}

func defaultConfig() config {
	return config{minParagraphRunes: 20}
}

// WithMinParagraphRunes drops passages shorter than n runes.
func WithMinParagraphRunes(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.minParagraphRunes = n
		}
	}
}

// WithStopwords excludes words from tokenization.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

// WithMaxDocs caps the number of indexed passages.
func WithMaxDocs(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxDocs = n
		}
	}
}

type passage struct {
	title     string
	text      string
	tokens    map[string]struct{}
	titleToks map[string]struct{}
}

// Index is a read-only passage index, safe for concurrent use.
type Index struct {
	cfg      config
	passages []passage
}

// Len returns the number of indexed passages.
func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return len(i.passages)
}

// Parse builds an Index from Markdown. Headings title the passages below
// them, table rows become one passage each, and other text is split into
// paragraphs on blank lines.
func Parse(md []byte, opts ...Option) *Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	idx := &Index{cfg: cfg}
	for _, e := range sections(string(md)) {
		if cfg.maxDocs > 0 && len(idx.passages) >= cfg.maxDocs {
			break
		}
		text := strings.TrimSpace(normalizeWhitespace(e.body))
		if text == "" {
			continue
		}
		if cfg.minParagraphRunes > 0 && utf8.RuneCountInString(text) < cfg.minParagraphRunes {
			continue
		}
		toks := tokenize(text+" "+e.title, cfg.stopwords)
		if len(toks) == 0 {
			continue
		}
		idx.passages = append(idx.passages, passage{
			title:     e.title,
			text:      text,
			tokens:    toks,
			titleToks: tokenize(e.title, cfg.stopwords),
		})
	}
	return idx
}

// Search returns up to k best passages for query (k <= 0 means 3).
func (i *Index) Search(query string, k int) []Passage {
	if i.Len() == 0 || strings.TrimSpace(query) == "" {
		return nil
	}
	if k <= 0 {
		k = 3
	}
	q := tokenize(query, i.cfg.stopwords)
	if len(q) == 0 {
		return nil
	}

	type scored struct {
		p     *passage
		score float64
	}
	var buf []scored
	for n := range i.passages {
		p := &i.passages[n]
		over := overlap(q, p.tokens)
		if over == 0 {
			continue
		}
		score := float64(over) / float64(len(q)+len(p.tokens)-over)
		if t := overlap(q, p.titleToks); t > 0 {
			score += titleWeight * float64(t) / float64(len(q))
		}
		buf = append(buf, scored{p: p, score: score})
	}
	if len(buf) == 0 {
		return nil
	}
	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].score != buf[b].score {
			return buf[a].score > buf[b].score
		}
		if la, lb := len(buf[a].p.text), len(buf[b].p.text); la != lb {
			return la < lb
		}
		return buf[a].p.text < buf[b].p.text
	})
	if k > len(buf) {
		k = len(buf)
	}
	out := make([]Passage, k)
	for n := 0; n < k; n++ {
		out[n] = Passage{Title: buf[n].p.title, Text: buf[n].p.text, Score: buf[n].score}
	}
	return out
}

type section struct {
	title string
	body  string
}

var headingRE = regexp.MustCompile(`^#{1,6}\s+(.*)$`)

// sections walks the Markdown line by line.
func sections(md string) []section {
	var (
		out   []section
		title string
		para  []string
	)
	flush := func() {
		if len(para) > 0 {
			out = append(out, section{title: title, body: strings.Join(para, " ")})
			para = para[:0]
		}
	}
	for _, raw := range strings.Split(md, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
			flush()
		case headingRE.MatchString(line):
			flush()
			title = strings.TrimSpace(strings.TrimRight(headingRE.FindStringSubmatch(line)[1], "#"))
		case strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|"):
			flush()
			if row := flattenTableRow(line); row != "" {
				out = append(out, section{title: title, body: row})
			}
		default:
			para = append(para, line)
		}
	}
	flush()
	return out
}

// flattenTableRow turns "| a | b |" into "a b"; separator rows yield "".
func flattenTableRow(line string) string {
	cols := strings.Split(strings.Trim(line, "|"), "|")
	cells := make([]string, 0, len(cols))
	for _, c := range cols {
		cell := strings.TrimSpace(c)
		if strings.Trim(cell, ":- ") == "" {
			continue
		}
		cells = append(cells, cell)
	}
	return strings.Join(cells, " ")
}

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*|\p{N}+`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	words := wordRE.FindAllString(strings.ToLower(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, skip := stop[w]; skip {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
