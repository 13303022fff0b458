package adcopy

import (
	"fmt"
	"strings"
)

type PromptOptions struct {
	Product string // free text, e.g. "a cedar garden gazebo"
	Tone    string // "" | "luxury" | "playful" | "minimal" | "cozy"
	Custom  string
}

type Tone struct {
	Name  string
	Style []string
}

const defaultTone = "luxury"

var tones = map[string]Tone{
	"luxury": {
		Name: "Luxury",
		Style: []string{
			"Use aspirational, luxury-focused tone",
			"Include emojis strategically",
			"Keep text scannable and concise",
			"Focus on lifestyle benefits",
			"Highlight materials and dimensions",
			"Emphasize ambiance/aesthetics",
			"Use power words (premium, elegant, stunning)",
		},
	},
	"playful": {
		Name: "Playful",
		Style: []string{
			"Use a warm, witty, upbeat tone",
			"Include emojis generously but keep them relevant",
			"Keep text scannable and concise",
			"Focus on fun moments and everyday joy",
			"Use light wordplay where it fits the product",
		},
	},
	"minimal": {
		Name: "Minimal",
		Style: []string{
			"Use a calm, understated, confident tone",
			"At most two emojis",
			"Short sentences, no filler adjectives",
			"Focus on function, materials and craft",
		},
	},
	"cozy": {
		Name: "Cozy",
		Style: []string{
			"Use a gentle, homely, inviting tone",
			"Include soft emojis (🌿 ☕ 🕯️) strategically",
			"Keep text scannable and concise",
			"Focus on comfort, family time and relaxation",
			"Emphasize ambiance and seasonal moments",
		},
	},
}

func Tones() []NamedOption {
	order := []string{"luxury", "playful", "minimal", "cozy"}
	out := make([]NamedOption, 0, len(order))
	for _, key := range order {
		out = append(out, NamedOption{Key: key, Name: tones[key].Name})
	}
	return out
}

type NamedOption struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// BuildPrompt returns the Pinterest-style ad brief sent along with the
// composited image.
func BuildPrompt(opts PromptOptions) string {
	toneKey := strings.ToLower(strings.TrimSpace(opts.Tone))
	tone, ok := tones[toneKey]
	if !ok {
		tone = tones[defaultTone]
	}

	subject := strings.TrimSpace(opts.Product)
	if subject == "" {
		subject = "the product shown in the attached image"
	}

	var b strings.Builder
	b.Grow(1024)

	b.WriteString(fmt.Sprintf("Create a Pinterest-style advertisement for %s. The ad should include:\n\n", subject))

	writeSection(&b, "STRUCTURE", []string{
		"Attention-grabbing opening line with emojis",
		"3-4 key product features as bullet points",
		"Main use cases prefixed with ✨",
		"Relevant hashtags",
		"Clear call-to-action",
	})
	writeSection(&b, "STYLE REQUIREMENTS", tone.Style)
	writeSection(&b, "FORMAT", []string{
		"Bold all lines",
		"Organized bullet points",
		"Strategic spacing",
		"Hashtags at end",
	})

	if custom := strings.TrimSpace(opts.Custom); custom != "" {
		writeSection(&b, "EXTRA NOTES", []string{custom})
	}

	b.WriteString("Describe only what is visible in the image; do not invent prices, brands or claims.\n")
	b.WriteString("The final output should read like an engaging social media post that drives interest and engagement.")

	return b.String()
}

func writeSection(b *strings.Builder, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	b.WriteString(title + ":\n")
	for _, line := range lines {
		b.WriteString("- " + line + "\n")
	}
	b.WriteString("\n")
}
