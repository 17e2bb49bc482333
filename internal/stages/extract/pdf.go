package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// extractPDFText pulls text out of every page's content stream.
func extractPDFText(data []byte) (string, error) {
	conf := model.NewDefaultConfiguration()
	pctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return "", fmt.Errorf("failed to read pdf: %w", err)
	}
	if err := api.ValidateContext(pctx); err != nil {
		return "", fmt.Errorf("pdf failed validation: %w", err)
	}

	var sb strings.Builder
	for pageNr := 1; pageNr <= pctx.PageCount; pageNr++ {
		r, err := pdfcpu.ExtractPageContent(pctx, pageNr)
		if err != nil {
			return "", fmt.Errorf("failed to extract page %d content: %w", pageNr, err)
		}
		if r == nil {
			continue
		}
		raw, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("failed to read page %d content: %w", pageNr, err)
		}

		page := textFromContentStream(raw)
		if strings.TrimSpace(page) == "" {
			continue
		}
		sb.WriteString(page)
		sb.WriteString("\n\n")
	}
	return sb.String(), nil
}

// textFromContentStream walks a PDF content stream and collects the
// arguments of the text-showing operators (Tj, TJ, ' and "). Positioning
// operators become whitespace so words do not run together. Only
// simple-encoded literal strings are decoded; hex strings with custom
// CID maps come out garbled, which the downstream empty-text check will
// surface as an extraction failure rather than silent gibberish.
func textFromContentStream(content []byte) string {
	var (
		sb      strings.Builder
		i       int
		inText  bool
		pending []string // string args since the last operator
	)

	flushShow := func() {
		for _, s := range pending {
			sb.WriteString(s)
		}
		pending = pending[:0]
	}

	for i < len(content) {
		c := content[i]
		switch {
		case c == '(':
			s, next := parseLiteralString(content, i)
			pending = append(pending, s)
			i = next
		case c == '<' && i+1 < len(content) && content[i+1] != '<':
			s, next := parseHexString(content, i)
			pending = append(pending, s)
			i = next
		case c == '%':
			for i < len(content) && content[i] != '\n' {
				i++
			}
		case isOperatorChar(c):
			start := i
			for i < len(content) && isOperatorChar(content[i]) {
				i++
			}
			switch string(content[start:i]) {
			case "BT":
				inText = true
				pending = pending[:0]
			case "ET":
				inText = false
				sb.WriteByte('\n')
			case "Tj", "TJ":
				if inText {
					flushShow()
				}
				pending = pending[:0]
			case "'", "\"":
				if inText {
					sb.WriteByte('\n')
					flushShow()
				}
				pending = pending[:0]
			case "Td", "TD", "T*":
				if inText {
					sb.WriteByte('\n')
				}
				pending = pending[:0]
			default:
				// Any other operator consumes its operands.
				pending = pending[:0]
			}
		default:
			i++
		}
	}
	return sb.String()
}

func isOperatorChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '*' || c == '\'' || c == '"'
}

// parseLiteralString decodes a PDF literal string starting at the '('
// and returns the decoded text plus the index past the closing ')'.
func parseLiteralString(content []byte, start int) (string, int) {
	var sb strings.Builder
	depth := 0
	i := start
	for i < len(content) {
		c := content[i]
		switch c {
		case '\\':
			if i+1 >= len(content) {
				return sb.String(), i + 1
			}
			i++
			switch content[i] {
			case 'n':
				sb.WriteByte('\n')
			case 'r', 't', 'b', 'f':
				sb.WriteByte(' ')
			case '(', ')', '\\':
				sb.WriteByte(content[i])
			default:
				if content[i] >= '0' && content[i] <= '7' {
					v, n := parseOctal(content, i)
					if v >= 0x20 && v < 0x7f {
						sb.WriteByte(byte(v))
					}
					i = n - 1
				}
			}
		case '(':
			depth++
			if depth > 1 {
				sb.WriteByte(c)
			}
		case ')':
			depth--
			if depth == 0 {
				return sb.String(), i + 1
			}
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
		i++
	}
	return sb.String(), i
}

func parseOctal(content []byte, start int) (int, int) {
	v := 0
	i := start
	for i < len(content) && i < start+3 && content[i] >= '0' && content[i] <= '7' {
		v = v*8 + int(content[i]-'0')
		i++
	}
	return v, i
}

// parseHexString decodes a PDF hex string starting at '<'. Bytes outside
// printable ASCII are dropped since without the font's encoding map they
// cannot be interpreted.
func parseHexString(content []byte, start int) (string, int) {
	var sb strings.Builder
	var hi = -1
	i := start + 1
	for i < len(content) && content[i] != '>' {
		d := hexDigit(content[i])
		if d >= 0 {
			if hi < 0 {
				hi = d
			} else {
				b := byte(hi*16 + d)
				if b >= 0x20 && b < 0x7f {
					sb.WriteByte(b)
				}
				hi = -1
			}
		}
		i++
	}
	return sb.String(), i + 1
}

func hexDigit(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}
