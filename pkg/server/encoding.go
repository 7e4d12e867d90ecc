package server

import "unicode/utf8"

// repairUploadFilename fixes filenames whose UTF-8 bytes were decoded
// as Latin-1 somewhere along the multipart pipeline. A mangled name is
// all code points below 0x100 with at least one at 0x80 or above; we
// re-encode those code points as raw bytes and keep the result if it
// parses as multi-byte UTF-8. Anything else passes through untouched.
func repairUploadFilename(name string) string {
	hasHigh := false
	for _, r := range name {
		if r >= 0x100 {
			return name
		}
		if r >= 0x80 {
			hasHigh = true
		}
	}
	if !hasHigh {
		return name
	}

	raw := make([]byte, 0, len(name))
	for _, r := range name {
		raw = append(raw, byte(r))
	}

	if !utf8.Valid(raw) {
		return name
	}

	repaired := string(raw)
	if utf8.RuneCountInString(repaired) == len(raw) {
		// Plain ASCII after re-encoding means nothing was mangled.
		return name
	}

	return repaired
}
