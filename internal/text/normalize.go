// Package text cleans raw chat text and segments it into speakable chunks.
package text

import (
	"regexp"
	"strconv"
	"strings"
)

// MentionResolver maps mention ids embedded in chat text to display names.
// A nil resolver leaves mention tokens verbatim.
type MentionResolver interface {
	ResolveUser(id uint64) (string, bool)
	ResolveChannel(id uint64) (string, bool)
}

var (
	userMentionRe    = regexp.MustCompile(`<@!?(\d+)>`)
	channelMentionRe = regexp.MustCompile(`<#(\d+)>`)
	markdownLinkRe   = regexp.MustCompile(`\[.*?]\(.*?\)`)
	urlRe            = regexp.MustCompile(`https?://\S+`)
	emojiTokenRe     = regexp.MustCompile(`<a?:\w+:\d+>`)
)

// Normalize strips markup from raw chat text and resolves mention tokens into
// natural-language phrases. The result is stable: normalizing twice yields the
// same string.
func Normalize(raw string, resolver MentionResolver) string {
	text := raw

	if resolver != nil {
		text = userMentionRe.ReplaceAllStringFunc(text, func(match string) string {
			id, err := strconv.ParseUint(userMentionRe.FindStringSubmatch(match)[1], 10, 64)
			if err != nil {
				return match
			}
			if name, ok := resolver.ResolveUser(id); ok {
				return "，提及 " + name + " 用戶，"
			}
			return match
		})
		text = channelMentionRe.ReplaceAllStringFunc(text, func(match string) string {
			id, err := strconv.ParseUint(channelMentionRe.FindStringSubmatch(match)[1], 10, 64)
			if err != nil {
				return match
			}
			if name, ok := resolver.ResolveChannel(id); ok {
				return "，在 " + name + " 頻道中，"
			}
			return match
		})
	}

	text = strings.ReplaceAll(text, "#", "")
	text = strings.ReplaceAll(text, "*", "")
	text = markdownLinkRe.ReplaceAllString(text, "")
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	text = urlRe.ReplaceAllString(text, "")
	text = emojiTokenRe.ReplaceAllString(text, "")

	return strings.TrimSpace(text)
}

// sentenceEnd reports whether r terminates a sentence for segmentation.
func sentenceEnd(r rune) bool {
	switch r {
	case '。', '！', '？', '!', '?', '\n':
		return true
	}
	return false
}

// runBoundary reports whether r ends a run for the payload-size limit.
func runBoundary(r rune) bool {
	switch r {
	case '。', '！', '？', '，':
		return true
	}
	return false
}

// Segment splits normalized text into ordered chunks of chunkSize sentences
// each. Sentence-final punctuation stays attached to its sentence. Runs longer
// than maxRun runes with no internal boundary are broken into fixed-width
// sub-runs rejoined with a comma so each synthesis payload stays bounded.
// Empty input yields nil; input without any terminator yields a single chunk.
func Segment(text string, maxRun, chunkSize int) []string {
	if chunkSize <= 0 {
		chunkSize = 2
	}
	if maxRun > 0 {
		text = limitRuns(text, maxRun)
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{strings.TrimSpace(text)}
	}

	chunks := make([]string, 0, (len(sentences)+chunkSize-1)/chunkSize)
	for i := 0; i < len(sentences); i += chunkSize {
		end := i + chunkSize
		if end > len(sentences) {
			end = len(sentences)
		}
		chunks = append(chunks, strings.Join(sentences[i:end], " "))
	}
	return chunks
}

func splitSentences(text string) []string {
	var sentences []string
	var current []rune
	for _, r := range text {
		current = append(current, r)
		if sentenceEnd(r) {
			if s := strings.TrimSpace(string(current)); s != "" {
				sentences = append(sentences, s)
			}
			current = current[:0]
		}
	}
	if s := strings.TrimSpace(string(current)); s != "" && len(sentences) > 0 {
		sentences = append(sentences, s)
	}
	return sentences
}

// limitRuns rewrites text so no run between boundary punctuation marks exceeds
// width runes. Oversized runs are cut into fixed-width pieces joined by "，".
func limitRuns(text string, width int) string {
	runs := splitRuns(text)
	needsSplit := false
	for _, run := range runs {
		if len([]rune(run)) >= width {
			needsSplit = true
			break
		}
	}
	if !needsSplit {
		return text
	}

	var b strings.Builder
	for _, run := range runs {
		r := []rune(run)
		if len(r) < width {
			b.WriteString(run)
			continue
		}
		for i := 0; i < len(r); i += width {
			if i > 0 {
				b.WriteString("，")
			}
			end := i + width
			if end > len(r) {
				end = len(r)
			}
			b.WriteString(string(r[i:end]))
		}
	}
	return b.String()
}

func splitRuns(text string) []string {
	var runs []string
	var current []rune
	for _, r := range text {
		current = append(current, r)
		if runBoundary(r) {
			runs = append(runs, string(current))
			current = current[:0]
		}
	}
	if len(current) > 0 {
		runs = append(runs, string(current))
	}
	return runs
}
