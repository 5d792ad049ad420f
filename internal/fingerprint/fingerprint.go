// Package fingerprint derives stable content-addressed names for image blobs.
// The same bytes (and the same disambiguating context) always produce the
// same name, which both deduplicates storage and makes re-uploads no-ops.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Name returns the hex sha256 of content with the given extension appended.
func Name(content []byte, ext string) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:]) + "." + ext
}

// NameWithContext mixes room and style into the digest so the same photo
// submitted for a different room type or design style stores under a
// different name.
func NameWithContext(content []byte, room, style, ext string) string {
	h := sha256.New()
	h.Write(content)
	h.Write([]byte("+" + room + "+" + style))
	return hex.EncodeToString(h.Sum(nil)) + "." + ext
}
