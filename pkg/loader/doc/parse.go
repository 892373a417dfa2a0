package doc

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var reBlankLines = regexp.MustCompile(`\n{3,}`)

func parseDocx(content []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to open docx: %w", err)
	}

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body = f
			break
		}
	}
	if body == nil {
		return nil, fmt.Errorf("document.xml not found in docx")
	}
	if body.UncompressedSize64 > docXMLMax {
		return nil, fmt.Errorf("document.xml too large: %d bytes", body.UncompressedSize64)
	}

	rc, err := body.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open document.xml: %w", err)
	}
	defer rc.Close()

	w := &textWriter{}
	if err := w.consume(xml.NewDecoder(io.LimitReader(rc, docXMLMax))); err != nil {
		return nil, err
	}
	return []byte(w.text()), nil
}

// textWriter walks WordprocessingML tokens. Deleted revisions are skipped,
// headings get a markdown prefix, table rows become "a | b | c" lines.
type textWriter struct {
	out      strings.Builder
	para     strings.Builder
	inText   bool
	deleted  int
	heading  int
	cells    []string
	inTable  int
	cellText strings.Builder
}

func (w *textWriter) consume(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to parse XML: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			w.start(t)
		case xml.EndElement:
			w.end(t)
		case xml.CharData:
			if w.deleted == 0 && w.inText {
				w.write(string(t))
			}
		}
	}
}

func (w *textWriter) start(t xml.StartElement) {
	switch t.Name.Local {
	case "del":
		w.deleted++
	case "t":
		w.inText = true
	case "tab":
		w.write("\t")
	case "br", "cr":
		w.write("\n")
	case "noBreakHyphen":
		w.write("-")
	case "pStyle":
		for _, a := range t.Attr {
			if a.Name.Local == "val" {
				w.heading = headingLevel(a.Value)
			}
		}
	case "tbl":
		w.inTable++
	case "tr":
		w.cells = w.cells[:0]
	case "tc":
		w.cellText.Reset()
	}
}

func (w *textWriter) end(t xml.EndElement) {
	switch t.Name.Local {
	case "del":
		if w.deleted > 0 {
			w.deleted--
		}
	case "t":
		w.inText = false
	case "p":
		w.endParagraph()
	case "tc":
		w.cells = append(w.cells, strings.TrimSpace(w.cellText.String()))
	case "tr":
		if row := strings.Join(w.cells, " | "); strings.Trim(row, " |") != "" {
			w.out.WriteString(row)
			w.out.WriteByte('\n')
		}
	case "tbl":
		if w.inTable > 0 {
			w.inTable--
		}
		w.out.WriteByte('\n')
	}
}

func (w *textWriter) write(s string) {
	if w.deleted != 0 {
		return
	}
	w.para.WriteString(s)
}

func (w *textWriter) endParagraph() {
	text := strings.TrimRight(w.para.String(), " \t")
	w.para.Reset()
	level := w.heading
	w.heading = 0

	if w.inTable > 0 {
		if w.cellText.Len() > 0 && text != "" {
			w.cellText.WriteByte(' ')
		}
		w.cellText.WriteString(text)
		return
	}
	if level > 0 && text != "" {
		w.out.WriteString(strings.Repeat("#", level) + " ")
	}
	w.out.WriteString(text)
	w.out.WriteByte('\n')
}

func (w *textWriter) text() string {
	text := strings.TrimSpace(w.out.String())
	text = reBlankLines.ReplaceAllString(text, "\n\n")
	if text != "" {
		text += "\n"
	}
	return text
}

// headingLevel maps paragraph style ids like "Heading2" or "Titulo1" to a
// heading depth. Other styles return 0.
func headingLevel(style string) int {
	lower := strings.ToLower(style)
	if lower == "title" {
		return 1
	}
	for _, prefix := range []string{"heading", "titulo", "título"} {
		if rest, ok := strings.CutPrefix(lower, prefix); ok && len(rest) == 1 && rest[0] >= '1' && rest[0] <= '6' {
			return int(rest[0] - '0')
		}
	}
	return 0
}
