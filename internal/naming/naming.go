// Package naming derives deterministic, collision-resistant artifact
// file names from hostname, device UUID, and header content hash.
package naming

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

// shortHashLen is the number of hex characters kept from the SHA256.
// Eight is short enough for usable filenames and long enough that an
// accidental collision across a single host's headers is negligible.
const shortHashLen = 8

// Names is the artifact file name pair for one device.
type Names struct {
	Image string
	Dump  string
}

// ShortHash returns the leading hex characters of the digest. The same
// header bytes always produce the same short hash, which is what makes
// re-running the tool idempotent at the naming layer.
func ShortHash(sum [sha256.Size]byte) string {
	return hex.EncodeToString(sum[:])[:shortHashLen]
}

// Name builds the artifact name pair:
//
//	luks_header_backup.<hostname>.<uuid>.<shortHash>.img
//	luks_header_backup.<hostname>.<uuid>.<shortHash>.txt
//
// Hostname and UUID are sanitized so the names are always safe as plain
// file names.
func Name(hostname, uuid string, sum [sha256.Size]byte) Names {
	base := fmt.Sprintf("luks_header_backup.%s.%s.%s",
		sanitize(hostname), sanitize(uuid), ShortHash(sum))
	return Names{
		Image: base + ".img",
		Dump:  base + ".txt",
	}
}

// sanitize replaces path separators and whitespace with dashes.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || unicode.IsSpace(r) {
			return '-'
		}
		return r
	}, s)
}
