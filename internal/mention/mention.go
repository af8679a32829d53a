// Package mention handles @-mentions in comment text.
//
// A mention is written as @[Display Name](user-id).
package mention

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
)

var (
	tokenPattern = regexp.MustCompile(`@\[([^\]]+)\]\((\d+)\)`)
	urlPattern   = regexp.MustCompile(`https?://[^\s<]+`)
)

// Mention is one parsed mention token.
type Mention struct {
	UserID int64
	Name   string
}

// Token formats a mention for inclusion in comment text.
func Token(name string, userID int64) string {
	return fmt.Sprintf("@[%s](%d)", name, userID)
}

// Parse returns the mentions in text, first occurrence order, one per user.
func Parse(text string) []Mention {
	var out []Mention
	seen := map[int64]bool{}
	for _, m := range tokenPattern.FindAllStringSubmatch(text, -1) {
		id, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, Mention{UserID: id, Name: m[1]})
	}
	return out
}

// UserIDs returns the ids of the mentioned users.
func UserIDs(text string) []int64 {
	mentions := Parse(text)
	ids := make([]int64, 0, len(mentions))
	for _, m := range mentions {
		ids = append(ids, m.UserID)
	}
	return ids
}

// Render escapes text for HTML, then turns mentions into tags and bare URLs into links.
func Render(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	out := html.EscapeString(text)
	out = tokenPattern.ReplaceAllString(out, `<span class="mention-tag">@$1</span>`)
	out = urlPattern.ReplaceAllString(out, `<a href="$0" target="_blank" rel="noopener noreferrer">$0</a>`)
	return out
}
