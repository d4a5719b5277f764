package extract

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/codeatlas/atlas/internal/model"
)

// maxSanitizedName caps the name component of an entity ID.
const maxSanitizedName = 80

// PathHash returns a short stable hash of a POSIX-normalized file path.
// It is part of the entity ID wire format and must not change.
func PathHash(filePath string) string {
	sum := sha1.Sum([]byte(NormalizePath(filePath)))
	return hex.EncodeToString(sum[:])[:10]
}

// NormalizePath converts a file path to forward-slash form.
func NormalizePath(filePath string) string {
	return strings.ReplaceAll(filePath, "\\", "/")
}

// SanitizeName reduces an entity name to ID-safe characters. Anything
// outside [A-Za-z0-9_-] becomes an underscore; the result is capped at 80
// characters.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	s := b.String()
	if len(s) > maxSanitizedName {
		s = s[:maxSanitizedName]
	}
	return s
}

// BuildEntityID derives the deterministic entity ID. The path hash keeps
// same-named symbols in different files from colliding, and re-ingesting
// identical input reproduces identical IDs.
func BuildEntityID(projectID string, kind model.EntityKind, name, filePath string, startLine int) string {
	return fmt.Sprintf("%s_%s_%s_%d_%s",
		projectID, kind, SanitizeName(name), startLine, PathHash(filePath))
}

// AssignIDs fills in the ID of every entity that does not have one yet.
func AssignIDs(projectID string, entities []model.Entity) {
	for i := range entities {
		if entities[i].ID == "" {
			entities[i].ID = BuildEntityID(projectID, entities[i].Kind,
				entities[i].Name, entities[i].FilePath, entities[i].StartLine)
		}
	}
}
