package chunker

import (
	"regexp"
	"strconv"
	"strings"

	"health-rag/internal/models"
)

const (
	defaultChunkSize = 300 // words
	defaultMinWords  = 40
)

var (
	pageMarkerRe = regexp.MustCompile(models.PageMarkerRegex)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// PageChunk is a bounded window of words attributed to a single page.
type PageChunk struct {
	Text string
	Page int
}

// Chunker splits page-tagged text into word windows. Windowing happens per
// page section, so a chunk never mixes text from two pages.
type Chunker struct {
	chunkSize int
	minWords  int
}

func New(chunkSize, minWords int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if minWords <= 0 || minWords >= chunkSize {
		minWords = defaultMinWords
		if minWords >= chunkSize {
			minWords = 1
		}
	}
	return &Chunker{chunkSize: chunkSize, minWords: minWords}
}

// Split locates the [Page N] markers in text, windows each page section into
// chunks of exactly chunkSize words (the final window may be shorter), and
// drops windows below minWords. Text before the first marker is attributed
// to page 1. Empty input yields no chunks.
func (c *Chunker) Split(text string) []PageChunk {
	markers := pageMarkerRe.FindAllStringSubmatchIndex(text, -1)

	var chunks []PageChunk
	if len(markers) == 0 {
		return c.splitSection(text, 1, chunks)
	}

	if head := text[:markers[0][0]]; strings.TrimSpace(head) != "" {
		chunks = c.splitSection(head, 1, chunks)
	}
	for i, m := range markers {
		page, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil || page < 1 {
			page = 1
		}
		end := len(text)
		if i+1 < len(markers) {
			end = markers[i+1][0]
		}
		chunks = c.splitSection(text[m[1]:end], page, chunks)
	}
	return chunks
}

// splitSection windows one page section. Trailing fragments shorter than
// minWords are dropped: a too-short snippet carries too little information
// to ground an answer on.
func (c *Chunker) splitSection(section string, page int, chunks []PageChunk) []PageChunk {
	words := strings.Fields(section)
	for start := 0; start < len(words); start += c.chunkSize {
		end := min(start+c.chunkSize, len(words))
		if end-start < c.minWords {
			continue
		}
		text := cleanText(strings.Join(words[start:end], " "))
		if text == "" {
			continue
		}
		chunks = append(chunks, PageChunk{Text: text, Page: page})
	}
	return chunks
}

// cleanText normalizes whitespace and strips any marker artifacts that
// survived extraction.
func cleanText(text string) string {
	text = pageMarkerRe.ReplaceAllString(text, "")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
