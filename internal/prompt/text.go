package prompt

import (
	"regexp"
	"sort"
	"strings"
)

var sentenceSplit = regexp.MustCompile(`[。.]\s*`)

// SentenceDetails splits text on full stops and returns the trimmed pieces.
func SentenceDetails(text string) []string {
	var details []string
	for _, s := range sentenceSplit.Split(text, -1) {
		if s = strings.Trim(s, " .　"); s != "" {
			details = append(details, s)
		}
	}
	if len(details) == 0 {
		return []string{strings.TrimSpace(text)}
	}
	return details
}

// Longer source terms first so compound words win over their parts.
var englishReplacer = strings.NewReplacer(
	"アール・ヌーヴォー", "Art Nouveau",
	"ヴェイパーウェーブ", "vaporwave",
	"アール・デコ", "Art Deco",
	"ノワール", "noir",
	"水彩画", "watercolor",
	"浮世絵", "ukiyo-e",
	"アニメ", "anime",
	"和風", "Japanese style",
	"忍者", "ninja",
	"漫画", "manga",
	"侍", "samurai",
)

// SanitizeToEnglish swaps common Japanese style words for English ones.
func SanitizeToEnglish(text string) string {
	return englishReplacer.Replace(text)
}

var (
	nonAnchorChars = regexp.MustCompile(`[^A-Za-z0-9\-\s]`)

	anchorPriority = map[string]bool{
		"cherry": true, "blossom": true, "blossoms": true, "lantern": true, "lanterns": true,
		"temple": true, "shrine": true, "garden": true, "tea": true, "bamboo": true,
		"maple": true, "zen": true, "wabi": true, "sabi": true, "imperfection": true,
		"architecture": true, "wood": true, "paper": true, "stone": true, "bridge": true,
		"pond": true, "kimono": true, "tatami": true, "shoji": true, "bonsai": true,
	}
	anchorKeywords = []string{"garden", "temple", "shrine", "lantern", "blossom", "bamboo", "maple", "tea", "zen"}
)

// AnchorTerms picks the nouns worth preserving through a chaotic rewrite,
// highest score first.
func AnchorTerms(text string, max int) []string {
	if max <= 0 {
		max = 8
	}
	type scored struct {
		score int
		token string
	}
	var items []scored
	for _, raw := range strings.Fields(nonAnchorChars.ReplaceAllString(text, " ")) {
		token := strings.Trim(raw, "-")
		if len(token) < 3 {
			continue
		}
		lowered := strings.ToLower(token)
		score := 1
		if anchorPriority[lowered] {
			score += 3
		}
		for _, kw := range anchorKeywords {
			if strings.Contains(lowered, kw) {
				score++
				break
			}
		}
		items = append(items, scored{score: score, token: token})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].token > items[j].token
	})

	var anchors []string
	seen := make(map[string]bool)
	for _, item := range items {
		lowered := strings.ToLower(item.token)
		if !seen[lowered] {
			seen[lowered] = true
			anchors = append(anchors, item.token)
		}
		if len(anchors) >= max {
			break
		}
	}
	return anchors
}

type cueLexicon struct {
	materials []string
	lighting  []string
	vfx       []string
	detail    []string
}

var cueVocab = map[string]cueLexicon{
	"cyberpunk": {
		materials: []string{"brushed metal", "titanium inlays", "carbon-fiber", "chromed edges", "micro-etched steel", "polymer plates"},
		lighting:  []string{"neon rim-light", "cyan underglow", "magenta accent light", "dynamic LED seams", "HUD glow", "soft holographic glow"},
		vfx:       []string{"holographic flicker", "pixel shimmer", "AR overlay", "scanline sheen", "volumetric haze"},
		detail:    []string{"micro-circuit veins", "fiber-optic threads", "embedded sensors", "heat vents", "panel seams", "thin cabling"},
	},
	"noir": {
		materials: []string{"matte enamel", "lacquered wood", "worn steel", "velvet texture"},
		lighting:  []string{"hard rim-light", "moody backlight", "rain-soaked reflections", "venetian blind shadows"},
		vfx:       []string{"film grain", "soft bloom", "cigarette smoke wisps"},
		detail:    []string{"sleek rivets", "aged patina", "subtle scratches"},
	},
	"scifi": {
		materials: []string{"brushed alloy", "ceramic composite", "graphene panels", "satin titanium"},
		lighting:  []string{"cool rim-light", "ambient panel glow", "bioluminescent accents"},
		vfx:       []string{"force-field shimmer", "ionized haze", "specular flares"},
		detail:    []string{"hex-mesh patterns", "micro-actuators", "servo joints"},
	},
	"vaporwave": {
		materials: []string{"pastel plastic", "glossy acrylic", "pearlescent enamel"},
		lighting:  []string{"pink-cyan gradient glow", "retro grid light", "soft bloom"},
		vfx:       []string{"CRT scanlines", "pixel dust", "checkerboard reflections"},
		detail:    []string{"chrome trims", "90s decals", "retro stickers"},
	},
	"generic": {
		materials: []string{"brushed metal", "ceramic-metal composite", "polished steel"},
		lighting:  []string{"edge underglow", "accent rim-light", "soft backlight"},
		vfx:       []string{"subtle holographic shimmer", "fine grain", "soft bloom"},
		detail:    []string{"micro-engraving", "thin inlays", "fiber threads"},
	},
}

var cueTemplates = []func(a string, lex cueLexicon, i int) string{
	func(a string, lex cueLexicon, i int) string {
		return a + " with " + pick(lex.materials, i) + " accents and " + pick(lex.lighting, i)
	},
	func(a string, lex cueLexicon, i int) string {
		return a + " featuring " + pick(lex.detail, i) + " and a hint of " + pick(lex.vfx, i)
	},
	func(a string, lex cueLexicon, i int) string {
		return "part of the " + a + " converted to " + pick(lex.materials, i) + " with " + pick(lex.lighting, i)
	},
	func(a string, lex cueLexicon, i int) string {
		return a + " showing " + pick(lex.detail, i) + " beneath the surface and subtle " + pick(lex.vfx, i)
	},
	func(a string, lex cueLexicon, i int) string {
		return a + " integrating " + pick(lex.materials, i) + " inlays and " + pick(lex.lighting, i)
	},
}

func pick(list []string, i int) string {
	return list[i%len(list)]
}

// CueStyle maps a preset label and guidance text to a vocabulary name.
func CueStyle(preset, guidance string) string {
	keys := []string{strings.ToLower(preset), strings.ToLower(guidance)}
	has := func(match func(string) bool) bool {
		for _, k := range keys {
			if match(k) {
				return true
			}
		}
		return false
	}
	switch {
	case has(func(k string) bool { return strings.Contains(k, "cyber") }):
		return "cyberpunk"
	case has(func(k string) bool { return strings.Contains(k, "noir") }):
		return "noir"
	case has(func(k string) bool { return k == "sci-fi" || k == "scifi" || k == "science fiction" }):
		return "scifi"
	case has(func(k string) bool { return strings.Contains(k, "vapor") }):
		return "vaporwave"
	}
	return "generic"
}

// HybridCues blends anchor words with the style vocabulary to suggest
// concrete fusion phrases.
func HybridCues(anchors []string, preset, guidance string, max int) []string {
	if len(anchors) == 0 {
		return nil
	}
	if max <= 0 {
		max = 5
	}
	lex := cueVocab[CueStyle(preset, guidance)]
	var cues []string
	for i, a := range anchors {
		if len(cues) >= max {
			break
		}
		cues = append(cues, cueTemplates[i%len(cueTemplates)](a, lex, i))
	}
	return cues
}
