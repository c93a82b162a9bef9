package service

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxRequesterSegment = 20
	maxDriverSegment    = 15
	maxInitials         = 3
)

var (
	nonAlnum    = regexp.MustCompile(`[^A-Z0-9]+`)
	honorifics  = regexp.MustCompile(`(?i)^(mr|mrs|ms|dr|prof|engr|atty|sir|maam|ma'am)\.?\s+`)
	nameSpacing = regexp.MustCompile(`[\s.]+`)
)

// RegenerateRequestNumber rewrites number as
// <prefix>-<year>-<sequence>-<requester>-<driver>, keeping the first three
// segments of the current number. The requester segment is the sanitized name
// when the trip has several participants and initials otherwise. Applying it
// again with the same names returns the same number.
func RegenerateRequestNumber(current, requesterName string, participantCount int, driverName string) (string, error) {
	parts := strings.Split(strings.TrimSpace(current), "-")
	if len(parts) < 3 {
		return "", fmt.Errorf("request number %q has no prefix-year-sequence head", current)
	}
	head := make([]string, 3)
	for i := 0; i < 3; i++ {
		head[i] = sanitizeSegment(parts[i], 0)
		if head[i] == "" {
			return "", fmt.Errorf("request number %q has an empty segment", current)
		}
	}

	var requester string
	if participantCount > 1 {
		requester = sanitizeSegment(requesterName, maxRequesterSegment)
	} else {
		requester = initials(requesterName)
	}
	if requester == "" {
		return "", fmt.Errorf("requester name %q yields an empty segment", requesterName)
	}

	driver := sanitizeSegment(driverName, maxDriverSegment)
	if driver == "" {
		return "", fmt.Errorf("driver name %q yields an empty segment", driverName)
	}

	return strings.Join(append(head, requester, driver), "-"), nil
}

// sanitizeSegment uppercases s, drops everything but A-Z and 0-9, and
// truncates to limit characters when limit > 0.
func sanitizeSegment(s string, limit int) string {
	out := nonAlnum.ReplaceAllString(strings.ToUpper(s), "")
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// initials returns up to three leading letters of the words of name,
// ignoring a leading honorific.
func initials(name string) string {
	cleaned := honorifics.ReplaceAllString(strings.TrimSpace(name), "")
	var b strings.Builder
	for _, word := range nameSpacing.Split(cleaned, -1) {
		w := sanitizeSegment(word, 0)
		if w == "" || w[0] < 'A' || w[0] > 'Z' {
			continue
		}
		b.WriteByte(w[0])
		if b.Len() == maxInitials {
			break
		}
	}
	if b.Len() == 0 {
		return sanitizeSegment(cleaned, maxInitials)
	}
	return b.String()
}
