package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const (
	docxDefaultBody  = "word/document.xml"
	contentTypesPath = "[Content_Types].xml"
	docxMainType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	// <w:t> and <w:t xml:space="preserve"> both carry run text.
	wtTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	// Paragraph ends become line breaks so notes keep their line structure.
	paragraphEnd = regexp.MustCompile(`</w:p>`)
	overrideTag  = regexp.MustCompile(`<Override[^>]*/>`)
	partNameAttr = regexp.MustCompile(`PartName="([^"]+)"`)
)

// readZipPart returns the contents of the named part, or nil when it is absent.
func readZipPart(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, nil
}

// docxBodyPath finds the main document part from [Content_Types].xml. Word sometimes
// writes word/document2.xml, and attribute order varies between producers.
func docxBodyPath(zr *zip.Reader) string {
	types, err := readZipPart(zr, contentTypesPath)
	if err != nil || types == nil {
		return docxDefaultBody
	}
	for _, override := range overrideTag.FindAllString(string(types), -1) {
		if !strings.Contains(override, `ContentType="`+docxMainType+`"`) {
			continue
		}
		if m := partNameAttr.FindStringSubmatch(override); len(m) > 1 {
			return strings.TrimPrefix(m[1], "/")
		}
	}
	return docxDefaultBody
}

// extractDOCX returns the run text of a .docx, one line per paragraph.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	bodyPath := docxBodyPath(zr)
	body, err := readZipPart(zr, bodyPath)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	if body == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", bodyPath)
	}

	var lines []string
	for _, para := range paragraphEnd.Split(string(body), -1) {
		runs := wtTag.FindAllStringSubmatch(para, -1)
		if len(runs) == 0 {
			continue
		}
		var b strings.Builder
		for _, r := range runs {
			b.WriteString(r[1])
		}
		if line := strings.TrimSpace(b.String()); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}
