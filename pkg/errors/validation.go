package errors

import (
	"regexp"
	"strings"
	"unicode"
)

// ValidateProjectID validates a project identifier before it is used as a
// store key or a file name.
//
// The validation rules are intentionally conservative:
//   - No empty identifiers
//   - No control characters
//   - No path separators or traversal sequences
//   - Maximum length of 128 characters
func ValidateProjectID(id string) error {
	if id == "" {
		return New(ErrCodeInvalidInput, "project id cannot be empty")
	}

	if len(id) > 128 {
		return New(ErrCodeInvalidInput, "project id too long (max 128 characters)")
	}

	for _, r := range id {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidInput, "project id contains invalid control characters")
		}
	}

	for _, pattern := range []string{"..", "/", "\\", "\x00"} {
		if strings.Contains(id, pattern) {
			return New(ErrCodeInvalidInput, "project id contains invalid characters: %q", pattern)
		}
	}

	return nil
}

// crsRegex matches AUTHORITY:CODE identifiers such as EPSG:2263 or OGC:CRS84.
var crsRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]*:[A-Za-z0-9_.-]+$`)

// ValidateCRS validates the shape of a CRS identifier. Whether the authority
// actually knows the code is decided later by the projection library.
func ValidateCRS(crs string) error {
	if crs == "" {
		return New(ErrCodeInvalidCRS, "CRS identifier cannot be empty")
	}
	if !crsRegex.MatchString(crs) {
		return New(ErrCodeInvalidCRS, "invalid CRS identifier: %q (expected AUTHORITY:CODE)", crs)
	}
	return nil
}

// ValidateOutputPath validates a relative file name used inside an export
// archive. It prevents archive entries from escaping their directory.
func ValidateOutputPath(path string) error {
	if path == "" {
		return New(ErrCodeInvalidPath, "path cannot be empty")
	}

	const maxPathLength = 255
	if len(path) > maxPathLength {
		return New(ErrCodeInvalidPath, "path too long (max %d characters)", maxPathLength)
	}

	for _, r := range path {
		if r == '\x00' || unicode.IsControl(r) {
			return New(ErrCodeInvalidPath, "path contains invalid characters")
		}
	}

	if strings.HasPrefix(path, "/") {
		return New(ErrCodeInvalidPath, "path must be relative (cannot start with /)")
	}

	if strings.Contains(path, "..") {
		return New(ErrCodeInvalidPath, "path cannot contain path traversal sequences (..)")
	}

	if strings.Contains(path, "\\") {
		return New(ErrCodeInvalidPath, "path cannot contain backslashes")
	}

	return nil
}
