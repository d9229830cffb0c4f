package artifact

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Fingerprint is the hex BLAKE3-256 digest of the templates in numbering
// order. Any edit that could change strategy ids changes the fingerprint.
func Fingerprint(templates []Template) string {
	n, err := Number(templates)
	if err != nil {
		return ""
	}

	h := blake3.New()
	for _, f := range n.Files {
		h.WriteString(string(f.Protocol))
		h.Write([]byte{0})
		h.WriteString(f.Name)
		h.Write([]byte{0})
		for _, d := range f.Doc {
			h.WriteString(d.Args[0])
			h.Write([]byte{'\n'})
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
