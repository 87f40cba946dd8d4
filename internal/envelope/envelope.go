// Package envelope strips reasoning-envelope markers from completion
// replies before they reach an end user.
package envelope

import "strings"

// Strip removes every <think>...</think> block (and its self-closing form,
// <think/> or <think />) from text, case-insensitively on the literal
// "think", then trims leading and trailing ASCII whitespace.
//
// An opening tag with no matching close strips the remainder of the
// string. Tags where additional letters follow "think" before '/', '>'
// or whitespace (e.g. "<thinking>") are left untouched.
func Strip(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	src := text
	for len(src) > 0 {
		if src[0] == '<' && len(src) >= 7 && strings.EqualFold(src[:6], "<think") {
			afterTag := src[6:]

			// self-closing: <think/>
			if len(afterTag) >= 2 && afterTag[0] == '/' && afterTag[1] == '>' {
				src = afterTag[2:]
				continue
			}
			// self-closing: <think />
			if len(afterTag) >= 3 && afterTag[0] == ' ' && afterTag[1] == '/' && afterTag[2] == '>' {
				src = afterTag[3:]
				continue
			}
			// opening <think> - find matching </think>
			if len(afterTag) >= 1 && afterTag[0] == '>' {
				rest := afterTag[1:]
				if idx := indexFold(rest, "</think>"); idx >= 0 {
					src = rest[idx+8:]
				} else {
					src = ""
				}
				continue
			}
		}
		b.WriteByte(src[0])
		src = src[1:]
	}

	return strings.Trim(b.String(), " \t\n\r")
}

// indexFold is strings.Index with case-insensitive matching on the literal
// "</think>" needle, avoiding an allocation-per-call ToLower on the haystack.
func indexFold(s, needle string) int {
	for i := 0; i+len(needle) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(needle)], needle) {
			return i
		}
	}
	return -1
}
