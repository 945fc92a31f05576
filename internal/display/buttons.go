package display

import (
	"regexp"
	"strings"
)

// Button is a call to action embedded in an assistant reply as
// [[BUTTON:label:url]], typically a link to the doctor locator.
type Button struct {
	Label string
	URL   string
}

var buttonPattern = regexp.MustCompile(`\[\[BUTTON:([^:\]]+):([^\]]+)\]\]`)

// ParseButtons strips button markers from content and returns them in order
// of appearance.
func ParseButtons(content string) (string, []Button) {
	matches := buttonPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return content, nil
	}

	buttons := make([]Button, 0, len(matches))
	for _, m := range matches {
		buttons = append(buttons, Button{Label: strings.TrimSpace(m[1]), URL: strings.TrimSpace(m[2])})
	}
	text := buttonPattern.ReplaceAllString(content, "")
	return strings.TrimSpace(text), buttons
}

// ResolveURL makes a relative button target absolute against base. Targets
// that already carry a scheme are returned as is.
func ResolveURL(base, target string) string {
	if base == "" || strings.Contains(target, "://") {
		return target
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(target, "/")
}
