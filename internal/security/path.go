package security

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ValidateObjectKey checks that a blob key is a relative, slash separated
// path with no traversal segments, e.g. "twitter/scheduled/<id>.json".
func ValidateObjectKey(key string) error {
	if key == "" {
		return fmt.Errorf("object key cannot be empty")
	}
	if strings.ContainsRune(key, 0) || strings.Contains(key, `\`) {
		return fmt.Errorf("object key contains invalid characters: %q", key)
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("absolute object keys not allowed: %s", key)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return fmt.Errorf("object key contains directory traversal: %s", key)
		}
	}
	if path.Clean(key) != key {
		return fmt.Errorf("object key is not in canonical form: %s", key)
	}
	return nil
}

// ResolveWithin maps key to a file under baseDir and verifies the result
// cannot escape it.
func ResolveWithin(baseDir, key string) (string, error) {
	if err := ValidateObjectKey(key); err != nil {
		return "", err
	}

	cleanBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}
	full := filepath.Join(cleanBase, filepath.FromSlash(key))

	rel, err := filepath.Rel(cleanBase, full)
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return "", fmt.Errorf("object key escapes base directory: %s", key)
	}
	return full, nil
}

// ValidateFilePath checks a local file path such as the config file. Absolute
// paths are allowed; traversal segments and NUL bytes are not.
func ValidateFilePath(p string) error {
	if p == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("file path contains invalid characters")
	}
	for _, segment := range strings.Split(filepath.ToSlash(p), "/") {
		if segment == ".." {
			return fmt.Errorf("path contains directory traversal: %s", p)
		}
	}
	return nil
}
