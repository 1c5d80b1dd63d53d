// Package vpath implements the pure path algebra the rest of shadowvfs relies
// on: splitting, joining, normalising, resolving and relating virtual paths.
//
// Every function here operates purely on strings using "/" as separator; none
// of them touch a filesystem or a backend. They deliberately do not delegate
// to path/filepath or to a Clean-then-validate helper such as the one a
// loopback adapter might use to keep a request inside a base directory —
// those guard against OS path traversal, not against the combinatorics of an
// in-memory virtual namespace, and their "." / ".." folding rules differ from
// what CachedNode resolution needs (see the package doc in DESIGN.md).
package vpath

import "strings"

// IsAbsolute reports whether p starts with "/".
func IsAbsolute(p string) bool {
	return strings.HasPrefix(p, "/")
}

// Split returns the path's components. The first element is "/" if p is
// absolute, or "." otherwise, followed by the non-empty slash-delimited
// components of p. An empty path splits to ["."].
func Split(p string) []string {
	if p == "" {
		return []string{"."}
	}

	abs := IsAbsolute(p)
	raw := strings.Split(p, "/")

	out := make([]string, 0, len(raw)+1)
	if abs {
		out = append(out, "/")
	} else {
		out = append(out, ".")
	}

	for _, c := range raw {
		if c != "" {
			out = append(out, c)
		}
	}

	return out
}

// Join filters out empty strings, concatenates the remainder with "/",
// collapses repeated separators and normalises the result. Joining nothing
// but empty strings returns ".".
func Join(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}

	if len(nonEmpty) == 0 {
		return "."
	}

	joined := strings.Join(nonEmpty, "/")
	joined = collapseSlashes(joined)
	return Normalize(joined)
}

func collapseSlashes(p string) string {
	var b strings.Builder
	b.Grow(len(p))
	prevSlash := false
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Normalize folds "." and ".." components. "." components are dropped; ".."
// pops the previous non-".." non-root component, or is kept literally when
// the previous component is itself ".." or when the path is relative and has
// no component left to pop. The leading "/" is restored for absolute paths.
// A trailing "/" is preserved iff the input had one and the normalised
// result does not already end in "/". An empty path normalises to ".".
func Normalize(p string) string {
	if p == "" {
		return "."
	}

	abs := IsAbsolute(p)
	trailingSlash := len(p) > 1 && strings.HasSuffix(p, "/")

	raw := strings.Split(p, "/")
	var out []string

	for _, c := range raw {
		switch c {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 && out[len(out)-1] != ".." {
				out = out[:len(out)-1]
				continue
			}
			if abs {
				// ".." above root is discarded: root has no parent.
				continue
			}
			out = append(out, "..")
		default:
			out = append(out, c)
		}
	}

	var result string
	if abs {
		result = "/" + strings.Join(out, "/")
	} else if len(out) == 0 {
		result = "."
	} else {
		result = strings.Join(out, "/")
	}

	if trailingSlash && !strings.HasSuffix(result, "/") {
		result += "/"
	}

	return result
}

// Resolve scans its arguments right-to-left for the last absolute segment,
// discards everything before it, joins the remainder, and trims a trailing
// "/" unless the result is exactly "/". With no arguments it returns "/".
func Resolve(parts ...string) string {
	start := 0
	found := false
	for i := len(parts) - 1; i >= 0; i-- {
		if IsAbsolute(parts[i]) {
			start = i
			found = true
			break
		}
	}

	var joined string
	if !found {
		joined = Join(append([]string{"/"}, parts...)...)
	} else {
		joined = Join(parts[start:]...)
	}

	if !IsAbsolute(joined) {
		joined = "/" + strings.TrimPrefix(joined, "./")
		joined = Normalize(joined)
	}

	if joined != "/" && strings.HasSuffix(joined, "/") {
		joined = strings.TrimSuffix(joined, "/")
	}

	if joined == "" {
		joined = "/"
	}

	return joined
}

// ResolveAt is Resolve's cwd-aware instance method: it behaves as Resolve
// with cwd prepended ahead of parts.
func ResolveAt(cwd string, parts ...string) string {
	all := append([]string{cwd}, parts...)
	return Resolve(all...)
}

// Relative computes the relative path from "from" to "to". Both arguments
// are first resolved to absolute paths. It finds the longest common
// "/"-delimited prefix, emits one ".." per remaining component of "from",
// and appends the remaining components of "to". Equal paths return "".
func Relative(from, to string) string {
	fromAbs := Resolve(from)
	toAbs := Resolve(to)

	if fromAbs == toAbs {
		return ""
	}

	fromParts := nonRootComponents(fromAbs)
	toParts := nonRootComponents(toAbs)

	common := 0
	for common < len(fromParts) && common < len(toParts) && fromParts[common] == toParts[common] {
		common++
	}

	ups := len(fromParts) - common
	segments := make([]string, 0, ups+len(toParts)-common)
	for i := 0; i < ups; i++ {
		segments = append(segments, "..")
	}
	segments = append(segments, toParts[common:]...)

	result := strings.Join(segments, "/")
	return strings.TrimSuffix(result, "/")
}

func nonRootComponents(absPath string) []string {
	trimmed := strings.Trim(absPath, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Basename returns the final component of p, with any trailing "/" stripped.
func Basename(p string) string {
	trimmed := strings.TrimRight(p, "/")
	if trimmed == "" {
		return ""
	}
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return trimmed
	}
	return trimmed[idx+1:]
}

// Dirname returns the prefix of p before its last component. It defaults to
// "." for relative paths and "/" for absolute paths when no directory part
// remains. Dirname("/") == "/"; Dirname(".") == ".".
func Dirname(p string) string {
	if p == "/" {
		return "/"
	}

	trimmed := strings.TrimRight(p, "/")
	if trimmed == "" {
		if p == "" {
			return "."
		}
		return "/"
	}

	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return "."
	}
	if idx == 0 {
		return "/"
	}
	return trimmed[:idx]
}

// Extname returns the substring of Basename(p) starting at its last ".",
// ignoring a leading dot (so a dotfile like ".bashrc" has no extension).
// Returns "" if there is no such extension.
func Extname(p string) string {
	base := Basename(p)
	if base == "" {
		return ""
	}

	idx := strings.LastIndex(base, ".")
	if idx <= 0 {
		return ""
	}
	return base[idx:]
}

// IsNormalized reports whether p has no "." or ".." component. (The leading
// "/" or "." marker Split prepends is not itself a component.)
func IsNormalized(p string) bool {
	components := Split(p)[1:]
	for _, c := range components {
		if c == "." || c == ".." {
			return false
		}
	}
	return true
}
