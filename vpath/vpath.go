// Package vpath maps between the virtual forward-slash paths the server
// exposes and real filesystem paths under the configured root, and validates
// user-supplied names. All paths crossing the package boundary are
// NFC-normalized.
package vpath

import (
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// UploadSuffix is appended to the first segment of an in-flight upload's
// filename so partial files are distinguishable on disk. When the upload
// completes, the index's SaveFrom renames the file to its final path.
const UploadSuffix = ".droppy-upload"

var reservedNames = regexp.MustCompile(`(?i)^(con|prn|aux|nul|com\d|lpt\d)$`)

// Normalize returns p as a clean, NFC-normalized virtual path rooted at "/".
func Normalize(p string) string {
	p = norm.NFC.String(strings.ReplaceAll(p, "\\", "/"))
	return path.Clean("/" + p)
}

// AddFilesPath joins root with the virtual path p and returns the real path.
// ".." segments in the result are resolved lexically and symlinks where the
// path exists; if the resolved path escapes root, root itself is returned so
// that containment is clamped rather than reported as an error.
func AddFilesPath(root, p string) string {
	p = norm.NFC.String(strings.ReplaceAll(p, "\\", "/"))
	real := filepath.Join(root, filepath.FromSlash("/"+p))
	if resolved, err := filepath.EvalSymlinks(real); err == nil {
		real = resolved
	}
	real = filepath.Clean(real)
	cleanRoot := filepath.Clean(root)
	if real != cleanRoot && !strings.HasPrefix(real, cleanRoot+string(filepath.Separator)) {
		return cleanRoot
	}
	return real
}

// RemoveFilesPath strips the root prefix from a real path, producing the
// virtual path. A real path equal to the root maps to "/".
func RemoveFilesPath(root, real string) string {
	cleanRoot := filepath.Clean(root)
	real = filepath.Clean(real)
	if real == cleanRoot {
		return "/"
	}
	rel := strings.TrimPrefix(real, cleanRoot)
	return Normalize(filepath.ToSlash(rel))
}

// IsPathSane reports whether every segment of p is a valid filename. When
// isURL is true the path is additionally rejected if it contains a ".."
// segment or characters outside the RFC 3986 reserved/unreserved sets.
func IsPathSane(p string, isURL bool) bool {
	if p == "" {
		return false
	}
	if isURL {
		for _, seg := range strings.Split(p, "/") {
			if seg == ".." {
				return false
			}
		}
		for _, r := range p {
			if !isURLRune(r) {
				return false
			}
		}
	}
	for _, seg := range strings.Split(strings.Trim(p, "/"), "/") {
		if seg == "" {
			continue
		}
		if !validFilename(seg) {
			return false
		}
	}
	return true
}

// validFilename applies the cross-platform filename rules: length cap,
// forbidden characters, reserved Windows device names, and the "." / ".."
// pseudo-entries.
func validFilename(name string) bool {
	if name == "" || name == "." || name == ".." || len(name) > 255 {
		return false
	}
	for _, r := range name {
		if r < 0x20 || strings.ContainsRune(`<>:"/\|?*`, r) {
			return false
		}
	}
	if reservedNames.MatchString(name) {
		return false
	}
	return true
}

// isURLRune reports whether r belongs to the RFC 3986 unreserved or reserved
// character sets.
func isURLRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("-._~:/?#[]@!$&'()*+,;=%", r)
}

// NaturalSort compares a and b by splitting both into runs of digits and
// non-digits; digit runs compare numerically, the rest lexicographically.
// It returns true when a orders before b.
func NaturalSort(a, b string) bool {
	ra, rb := splitRuns(a), splitRuns(b)
	for i := 0; i < len(ra) && i < len(rb); i++ {
		if ra[i] == rb[i] {
			continue
		}
		na, aerr := strconv.ParseInt(ra[i], 10, 64)
		nb, berr := strconv.ParseInt(rb[i], 10, 64)
		if aerr == nil && berr == nil {
			if na != nb {
				return na < nb
			}
			continue
		}
		return ra[i] < rb[i]
	}
	return len(ra) < len(rb)
}

// splitRuns cuts s into maximal runs of digits and non-digits.
func splitRuns(s string) []string {
	var runs []string
	start := 0
	for i := 1; i <= len(s); i++ {
		if i == len(s) || isDigit(s[i]) != isDigit(s[i-1]) {
			runs = append(runs, s[start:i])
			start = i
		}
	}
	return runs
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// CountOccurrences returns the number of non-overlapping occurrences of sub
// in s, used for path depth calculations.
func CountOccurrences(s, sub string) int {
	return strings.Count(s, sub)
}

// AddUploadSuffix marks p as an in-flight upload by inserting UploadSuffix
// after the first dot-separated segment of the filename:
// "/a/report.tar.gz" becomes "/a/report.droppy-upload.tar.gz".
func AddUploadSuffix(p string) string {
	dir, name := path.Split(p)
	if i := strings.IndexByte(name, '.'); i > 0 {
		return dir + name[:i] + UploadSuffix + name[i:]
	}
	return dir + name + UploadSuffix
}

// RemoveUploadSuffix undoes AddUploadSuffix.
func RemoveUploadSuffix(p string) string {
	return strings.Replace(p, UploadSuffix, "", 1)
}
