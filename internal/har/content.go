package har

import (
	"bytes"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// ExtractText reduces a response body to plain text based on its MIME type.
// HTML is stripped to its visible text, PDF bodies go through text
// extraction, and everything else is returned unchanged. Extraction errors
// fall back to the raw body — the caller still gets something to truncate.
func ExtractText(mimeType, body string) string {
	switch {
	case strings.Contains(mimeType, "text/html"):
		return htmlToText(body)
	case strings.Contains(mimeType, "application/pdf"):
		text, err := pdfToText([]byte(body))
		if err != nil {
			return body
		}
		return text
	default:
		return body
	}
}

// htmlToText walks the token stream collecting text nodes, skipping script
// and style subtrees.
func htmlToText(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))
	var b strings.Builder
	skipDepth := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.StartTagToken:
			name, _ := z.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if tag := string(name); (tag == "script" || tag == "style") && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := strings.TrimSpace(string(z.Text()))
			if text == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(text)
		}
	}
}

func pdfToText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	text, err := io.ReadAll(textReader)
	if err != nil {
		return "", err
	}
	return string(text), nil
}
