package domain

import (
	"path"
	"strings"
)

// NormalizePath cleans a hierarchical path: leading slash, no duplicate or trailing
// slashes (except for the root). The empty string stays empty.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	return path.Clean("/" + p)
}

// IsExtendedPrefix reports whether a is b or a hierarchical ancestor of b.
// "/news" is an extended prefix of "/news/today" but not of "/newsroom".
func IsExtendedPrefix(a, b string) bool {
	a, b = NormalizePath(a), NormalizePath(b)
	if a == "" || b == "" {
		return false
	}
	if a == b || a == "/" {
		return true
	}
	return strings.HasPrefix(b, a+"/")
}

// IsDescendant reports whether b lies strictly below a.
func IsDescendant(a, b string) bool {
	return IsExtendedPrefix(a, b) && NormalizePath(a) != NormalizePath(b)
}

// RebasePath moves p from below oldRoot to below newRoot, keeping the suffix.
// The second return value is false if p is not under oldRoot.
func RebasePath(p, oldRoot, newRoot string) (string, bool) {
	p, oldRoot, newRoot = NormalizePath(p), NormalizePath(oldRoot), NormalizePath(newRoot)
	if !IsExtendedPrefix(oldRoot, p) {
		return p, false
	}
	suffix := strings.TrimPrefix(p, oldRoot)
	if oldRoot == "/" {
		suffix = p
	}
	return NormalizePath(newRoot + "/" + suffix), true
}

// Ancestors returns p and all of its ancestors, root first.
// "/a/b" yields ["/", "/a", "/a/b"].
func Ancestors(p string) []string {
	p = NormalizePath(p)
	if p == "" {
		return nil
	}
	if p == "/" {
		return []string{"/"}
	}
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	out := make([]string, 0, len(parts)+1)
	out = append(out, "/")
	cur := ""
	for _, part := range parts {
		cur += "/" + part
		out = append(out, cur)
	}
	return out
}
