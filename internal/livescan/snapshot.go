package livescan

import (
	"encoding/base64"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// decodeSnapshot decodes a data-URL snapshot sent by a scan client into raw
// image bytes plus a short format name. Any malformed input yields a nil
// snapshot; alerts stay valid without one.
func decodeSnapshot(dataURL string) ([]byte, string) {
	if dataURL == "" {
		return nil, ""
	}

	payload := dataURL
	format := ""
	if strings.HasPrefix(dataURL, "data:") {
		idx := strings.Index(dataURL, ",")
		if idx < 0 {
			return nil, ""
		}
		header := dataURL[len("data:"):idx]
		payload = dataURL[idx+1:]
		if !strings.Contains(header, ";base64") {
			return nil, ""
		}
		mime := strings.SplitN(header, ";", 2)[0]
		format = formatFromMIME(mime)
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, ""
	}
	if format == "" {
		format = formatFromMagic(raw)
	}
	if format == "" {
		return nil, ""
	}
	return raw, format
}

func formatFromMIME(mime string) string {
	switch mime {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/png":
		return "png"
	default:
		return ""
	}
}

func formatFromMagic(data []byte) string {
	if len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "jpg"
	}
	if len(data) >= 8 && string(data[:8]) == "\x89PNG\r\n\x1a\n" {
		return "png"
	}
	return ""
}

var slugTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// labelSlug turns an arbitrary label into a safe lowercase token usable in
// filenames and log fields. Diacritics are stripped, anything outside
// [a-z0-9] collapses to single underscores.
func labelSlug(label string) string {
	folded, _, err := transform.String(slugTransformer, label)
	if err != nil {
		folded = label
	}

	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
