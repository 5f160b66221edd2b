package script

import (
	"fmt"
	"strings"

	"github.com/cuongbtq/briefcast/internal/config"
	"github.com/cuongbtq/briefcast/internal/domain"
)

const briefingPrompt = `You write short spoken news briefings for two hosts, HOST_A and HOST_B.
Use only the items provided. Write every line as "HOST_A: ..." or "HOST_B: ...".
Respond with a JSON object: {"script": string, "headline": string, "description": string}.
The headline is at most 12 words; the description is one or two sentences.`

const episodePrompt = `You write an explanatory podcast episode for two hosts, HOST_A and HOST_B,
about the single reference record provided. Write every line as "HOST_A: ..." or "HOST_B: ...".
Respond with a JSON object: {"script": string, "headline": string, "description": string}.
The headline is at most 12 words; the description is one or two sentences.`

// SystemPrompt returns the instructions for a job type
func SystemPrompt(jobType domain.JobType) string {
	if jobType == domain.JobTypeEpisode {
		return episodePrompt
	}
	return briefingPrompt
}

// BuildPrompt renders a bundle as the user message, bounded by cfg. Items past
// MaxItems are dropped, each item is truncated to MaxItemChars and rendering
// stops before MaxChars would be exceeded.
func BuildPrompt(bundle *domain.Bundle, cfg config.PromptConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", bundle.Title)
	fmt.Fprintf(&b, "Window: %s to %s\n\n",
		bundle.WindowStart.UTC().Format("Jan 2, 2006 15:04 MST"),
		bundle.WindowEnd.UTC().Format("Jan 2, 2006 15:04 MST"))

	for i, item := range bundle.Items {
		if cfg.MaxItems > 0 && i >= cfg.MaxItems {
			break
		}

		entry := renderItem(i+1, item, cfg.MaxItemChars)
		if cfg.MaxChars > 0 && b.Len()+len(entry) > cfg.MaxChars {
			break
		}
		b.WriteString(entry)
	}
	return b.String()
}

func renderItem(n int, item domain.ContentItem, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] (%s) %s\n", n, item.Kind, item.Title)
	if item.Source != "" {
		fmt.Fprintf(&b, "Source: %s\n", item.Source)
	}

	text := strings.TrimSpace(item.Summary + "\n" + item.Body)
	if text != "" {
		b.WriteString(truncate(text, limit))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

// truncate cuts s to at most limit runes, on a word boundary when possible
func truncate(s string, limit int) string {
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return s
	}

	cut := string(runes[:limit])
	if idx := strings.LastIndexAny(cut, " \n"); idx > limit/2 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut) + "..."
}
