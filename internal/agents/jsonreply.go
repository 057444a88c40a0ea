package agents

import (
	"errors"
	"regexp"
	"strings"
)

var fencePattern = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)```")

var errNoObject = errors.New("no JSON object in reply")

// extractJSON salvages the first JSON object from a model reply. It unwraps a
// fenced code block, drops // and /* */ comments, cuts out the first balanced
// {...} object and removes trailing commas. Quoted strings are left alone.
func extractJSON(reply string) (string, error) {
	if m := fencePattern.FindStringSubmatch(reply); m != nil {
		reply = m[1]
	}
	text := stripComments(reply)

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", errNoObject
	}
	end := balancedEnd(text, start)
	if end < 0 {
		return "", errors.New("unbalanced JSON object in reply")
	}
	return stripTrailingCommas(text[start : end+1]), nil
}

// scanner walks JSON-ish text tracking whether it is inside a string.
type scanner struct {
	inString bool
	escaped  bool
}

// step consumes c and reports whether it is outside any string literal.
func (s *scanner) step(c byte) bool {
	switch {
	case s.escaped:
		s.escaped = false
		return false
	case s.inString:
		switch c {
		case '\\':
			s.escaped = true
		case '"':
			s.inString = false
		}
		return false
	case c == '"':
		s.inString = true
		return false
	}
	return true
}

func stripComments(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	var s scanner
	for i := 0; i < len(text); i++ {
		c := text[i]
		if !s.inString && c == '/' && i+1 < len(text) {
			switch text[i+1] {
			case '/':
				for i < len(text) && text[i] != '\n' {
					i++
				}
				if i < len(text) {
					b.WriteByte('\n')
				}
				continue
			case '*':
				end := strings.Index(text[i+2:], "*/")
				if end < 0 {
					return b.String()
				}
				i += 2 + end + 1
				continue
			}
		}
		s.step(c)
		b.WriteByte(c)
	}
	return b.String()
}

func balancedEnd(text string, start int) int {
	var s scanner
	depth := 0
	for i := start; i < len(text); i++ {
		c := text[i]
		if !s.step(c) {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func stripTrailingCommas(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	var s scanner
	for i := 0; i < len(text); i++ {
		c := text[i]
		if s.step(c) && c == ',' {
			j := i + 1
			for j < len(text) && strings.IndexByte(" \t\r\n", text[j]) >= 0 {
				j++
			}
			if j < len(text) && (text[j] == '}' || text[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
