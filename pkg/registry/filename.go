package registry

import "strings"

// StoredFileName derives the canonical on-disk name for an uploaded
// artifact by embedding the version before the extension, so
// ("setup.exe", "2.1.0") becomes "setup_2.1.0.exe". A name without an
// extension gets the version appended. Uploading the same base file under
// two different versions therefore never collides.
func StoredFileName(base, version string) string {
	if idx := strings.LastIndex(base, "."); idx >= 0 {
		return base[:idx] + "_" + version + base[idx:]
	}
	return base + "_" + version
}

// BaseStem returns the uploader-supplied base name stripped of its final
// extension, which is what gets persisted as the record's original name.
func BaseStem(base string) string {
	if idx := strings.LastIndex(base, "."); idx >= 0 {
		return base[:idx]
	}
	return base
}

// OriginalName recovers the display name from a stored filename by cutting
// at the last occurrence of "_" + version. If the marker is absent, or the
// filename itself is missing, the recovery fails and FallbackOriginalName
// is returned.
//
// Known limitation: this is substring search, not structured parsing. A stem
// that itself ends in the version digits can split in the wrong place.
// Stricter parsing would break filenames already on disk from earlier
// releases, so the loose match is kept on purpose.
func OriginalName(fileName, version string) string {
	if fileName == "" {
		return FallbackOriginalName
	}
	idx := strings.LastIndex(fileName, "_"+version)
	if idx < 0 {
		return FallbackOriginalName
	}
	return fileName[:idx]
}
