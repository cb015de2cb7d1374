package content

import (
	"crypto/sha256"
	"encoding/hex"
)

// DocumentKey derives a stable filesystem-safe key from a document id.
// Cache directories and index directories are both named by this key, so a
// document's on-disk artifacts can be located (and deleted) from the id
// alone regardless of what characters the id contains.
func DocumentKey(documentID string) string {
	sum := sha256.Sum256([]byte(documentID))
	return hex.EncodeToString(sum[:16])
}
