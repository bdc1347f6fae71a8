// Package script turns raw model output into a runnable FreeCAD script on
// disk.
package script

import (
	"regexp"
)

var documentCreation = regexp.MustCompile(`newDocument\s*\(`)

// CreatesDocument reports whether code calls newDocument anywhere.
func CreatesDocument(code string) bool {
	return documentCreation.MatchString(code)
}

// Prepare applies every normalization step except the export snippet:
// fence stripping, entry-point guard unwrapping and the missing-document
// safeguard. It never fails.
func Prepare(raw string) string {
	code := StripFences(raw)
	code = UnwrapMainGuard(code)
	if !CreatesDocument(code) {
		code = DefaultDocumentLine + "\n" + code
	}
	return code
}

// Normalize returns the complete script text for raw model output. Clean
// input comes back byte-for-byte with only the export snippet appended.
func Normalize(raw string, out Outputs) string {
	return Prepare(raw) + ExportSnippet(out)
}
