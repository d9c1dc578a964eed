package transport

import (
	"bytes"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

// ToUTF8 converts a response body to UTF-8. The charset parameter of contentType is
// tried first; when it is missing or unknown and the data is not already valid UTF-8,
// the charset is detected from the bytes. The second return value names the charset
// the data was decoded from.
func ToUTF8(data []byte, contentType string) ([]byte, string, error) {
	label := charsetParam(contentType)

	if isUTF8Label(label) || (label == "" && utf8.Valid(data)) {
		return data, "utf-8", nil
	}

	reader, used := utf8Reader(data, label)

	decoded, err := io.ReadAll(reader)
	if err != nil {
		return nil, used, err
	}

	if !utf8.Valid(decoded) {
		return data, "utf-8", nil
	}

	return decoded, used, nil
}

func charsetParam(contentType string) string {
	if contentType == "" {
		return ""
	}

	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}

	return strings.ToLower(strings.TrimSpace(params["charset"]))
}

func isUTF8Label(label string) bool {
	return label == "utf-8" || label == "utf8"
}

func utf8Reader(data []byte, label string) (io.Reader, string) {
	if label != "" {
		if r, err := charset.NewReaderLabel(label, bytes.NewReader(data)); err == nil {
			return r, label
		}
	}

	best, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil {
		return bytes.NewReader(data), "utf-8"
	}

	r, err := charset.NewReaderLabel(best.Charset, bytes.NewReader(data))
	if err != nil {
		return bytes.NewReader(data), "utf-8"
	}

	return r, strings.ToLower(best.Charset)
}
