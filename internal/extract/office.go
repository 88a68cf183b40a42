package extract

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
)

// extractDOCX returns the paragraphs of the main document part separated
// by blank lines. Empty paragraphs are skipped.
func extractDOCX(filename string) (string, error) {
	zr, err := zip.OpenReader(filename)
	if err != nil {
		return "", fmt.Errorf("failed to open docx: %w", err)
	}
	defer zr.Close()

	f := findZipFile(&zr.Reader, "word/document.xml")
	if f == nil {
		return "", fmt.Errorf("word/document.xml not found")
	}

	paras, err := xmlParagraphs(f, "")
	if err != nil {
		return "", err
	}
	return strings.Join(flatten(paras), "\n\n"), nil
}

// extractPPTX returns the text of every shape, slide by slide. Paragraphs of
// a shape are kept on consecutive lines, shapes are separated by blank lines.
func extractPPTX(filename string) (string, error) {
	zr, err := zip.OpenReader(filename)
	if err != nil {
		return "", fmt.Errorf("failed to open pptx: %w", err)
	}
	defer zr.Close()

	type slide struct {
		n int
		f *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		dir, name := path.Split(f.Name)
		if dir != "ppt/slides/" || !strings.HasPrefix(name, "slide") || !strings.HasSuffix(name, ".xml") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "slide"), ".xml"))
		if err != nil {
			continue
		}
		slides = append(slides, slide{n: n, f: f})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	var shapes []string
	for _, s := range slides {
		shapeParas, err := xmlParagraphs(s.f, "sp")
		if err != nil {
			return "", err
		}
		for _, paras := range shapeParas {
			if text := strings.TrimSpace(strings.Join(paras, "\n")); text != "" {
				shapes = append(shapes, text)
			}
		}
	}
	return strings.Join(shapes, "\n\n"), nil
}

// xmlParagraphs collects the text runs of every <p> element. With a group
// element name, paragraphs are grouped by the enclosing element of that
// name; otherwise everything forms a single group.
func xmlParagraphs(f *zip.File, group string) ([][]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()

	var (
		groups  [][]string
		current []string
		para    strings.Builder
		inPara  bool
		inText  bool
	)
	flushPara := func() {
		if text := strings.TrimSpace(para.String()); text != "" {
			current = append(current, text)
		}
		para.Reset()
	}
	flushGroup := func() {
		if len(current) > 0 {
			groups = append(groups, current)
			current = nil
		}
	}

	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", f.Name, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inPara = true
			case "t":
				inText = true
			case "tab":
				para.WriteString("\t")
			case "br", "cr":
				para.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				flushPara()
				inPara = false
			case "t":
				inText = false
			case group:
				flushGroup()
			}
		case xml.CharData:
			if inPara && inText {
				para.Write(t)
			}
		}
	}
	flushGroup()

	return groups, nil
}

func findZipFile(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func flatten(groups [][]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
