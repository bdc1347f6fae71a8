package script

import (
	"regexp"
	"strings"
)

const fence = "```"

var languageTag = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_+.-]*$`)

// StripFences removes a markdown code fence wrapped around the text.
//
// Only text whose first non-blank characters are a fence is touched. The
// opening fence and an optional language tag are dropped, along with the
// first closing fence and everything after it. Without a closing fence only
// the opening marker goes. Text that does not start with a fence is returned
// unchanged.
func StripFences(text string) string {
	trimmed := strings.TrimLeft(text, " \t\r\n")
	if !strings.HasPrefix(trimmed, fence) {
		return text
	}

	body := strings.TrimLeft(trimmed[len(fence):], "`")
	firstLine, rest, hasNewline := strings.Cut(body, "\n")
	if tag := strings.TrimSpace(firstLine); tag == "" || languageTag.MatchString(tag) {
		if hasNewline {
			body = rest
		} else {
			body = ""
		}
	}

	body = cutAtClosingFence(body)
	body = strings.TrimLeft(body, "\r\n")
	return strings.TrimRight(body, " \t\r\n")
}

// cutAtClosingFence truncates body at the first line that starts with a
// fence, or at a fence that ends the last line.
func cutAtClosingFence(body string) string {
	offset := 0
	for offset <= len(body) {
		line, _, found := strings.Cut(body[offset:], "\n")
		if strings.HasPrefix(strings.TrimSpace(line), fence) {
			return body[:offset]
		}
		if !found {
			if idx := strings.LastIndex(line, fence); idx >= 0 {
				return body[:offset+idx]
			}
			break
		}
		offset += len(line) + 1
	}
	return body
}
