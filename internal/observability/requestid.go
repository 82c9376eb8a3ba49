package observability

import "unicode"

// MaxRequestIDLength bounds caller-supplied correlation ids.
const MaxRequestIDLength = 128

// ValidRequestID rejects empty, oversized, or non-printable ids so a
// caller cannot inject into logs or response headers.
func ValidRequestID(id string) bool {
	if id == "" || len(id) > MaxRequestIDLength {
		return false
	}
	for _, r := range id {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
