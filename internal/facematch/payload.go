package facematch

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// DataURL encodes image bytes the way DeepFace style services accept them.
func DataURL(raw []byte) string {
	mime := http.DetectContentType(raw)
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(raw)
}

// DecodeDataURL reverses DataURL. Plain base64 without the data: prefix is
// accepted too.
func DecodeDataURL(value string) ([]byte, error) {
	if strings.HasPrefix(value, "data:") {
		if idx := strings.IndexByte(value, ','); idx >= 0 {
			value = value[idx+1:]
		}
	}
	return base64.StdEncoding.DecodeString(value)
}

// IsNoFaceMessage reports whether a matcher error text means face detection
// failed rather than the comparison itself.
func IsNoFaceMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "face could not be detected") ||
		strings.Contains(lower, "no face detected")
}
