// Package document holds the source-document vocabulary shared by indexing and
// retrieval: document type classification and content identifiers.
package document

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DocType is a coarse document category derived from the file name.
type DocType string

const (
	DocTypeSatzung     DocType = "satzung"
	DocTypeDatenschutz DocType = "datenschutz"
	DocTypeEventTerms  DocType = "event_terms"
	DocTypeSponsoring  DocType = "sponsoring"
	DocTypeOther       DocType = "other"
)

// AllDocTypes lists every category in classification priority order.
var AllDocTypes = []DocType{
	DocTypeSatzung,
	DocTypeDatenschutz,
	DocTypeEventTerms,
	DocTypeSponsoring,
	DocTypeOther,
}

// classificationRules are checked in order; the first rule with a matching
// substring wins.
var classificationRules = []struct {
	docType    DocType
	substrings []string
}{
	{DocTypeSatzung, []string{"satzung"}},
	{DocTypeDatenschutz, []string{"datenschutz"}},
	{DocTypeEventTerms, []string{"event", "terms"}},
	{DocTypeSponsoring, []string{"spons", "partner"}},
}

// ClassifyDocType derives the document category from a file name using
// case-insensitive substring heuristics.
func ClassifyDocType(filename string) DocType {
	name := strings.ToLower(filepath.Base(filename))
	for _, rule := range classificationRules {
		for _, s := range rule.substrings {
			if strings.Contains(name, s) {
				return rule.docType
			}
		}
	}
	return DocTypeOther
}

// ParseDocType validates a stored category string.
func ParseDocType(s string) (DocType, error) {
	for _, t := range AllDocTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown doc type %q", s)
}

// ContentID returns the stable identifier of a chunk: the hex sha256 of
// "source|page|index|text". A page of 0 means the source is not paginated.
// Identical inputs always produce the same ID, so re-indexing unchanged
// content never creates duplicates, while any edit yields a new ID.
func ContentID(source string, page, chunkIndex int, text string) string {
	key := fmt.Sprintf("%s|%d|%d|%s", source, page, chunkIndex, text)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// pointNamespace scopes the UUIDs derived from content IDs.
var pointNamespace = uuid.MustParse("6f1c2a0e-3b7d-4c55-9a8e-2d4f1b9c7e10")

// PointUUID maps a content ID onto a deterministic UUID for stores whose keys
// must be UUIDs.
func PointUUID(contentID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(contentID)).String()
}
