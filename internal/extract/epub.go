package extract

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"path"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// bareNumber matches lines holding only a page or footnote number
var bareNumber = regexp.MustCompile(`^\d{1,3}$`)

type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type epubPackage struct {
	Manifest []struct {
		ID        string `xml:"id,attr"`
		Href      string `xml:"href,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"manifest>item"`
	Spine []struct {
		IDRef string `xml:"idref,attr"`
	} `xml:"spine>itemref"`
}

// extractEPUB returns the text of the content documents in reading order,
// one block per document separated by blank lines.
func extractEPUB(filename string) (string, error) {
	zr, err := zip.OpenReader(filename)
	if err != nil {
		return "", fmt.Errorf("failed to open epub: %w", err)
	}
	defer zr.Close()

	var container epubContainer
	if err := decodeZipXML(&zr.Reader, "META-INF/container.xml", &container); err != nil {
		return "", err
	}
	if len(container.Rootfiles) == 0 {
		return "", fmt.Errorf("epub has no rootfile")
	}

	opfPath := container.Rootfiles[0].FullPath
	var pkg epubPackage
	if err := decodeZipXML(&zr.Reader, opfPath, &pkg); err != nil {
		return "", err
	}

	hrefs := make(map[string]string, len(pkg.Manifest))
	for _, item := range pkg.Manifest {
		if strings.Contains(item.MediaType, "html") {
			hrefs[item.ID] = path.Join(path.Dir(opfPath), item.Href)
		}
	}

	var texts []string
	for _, ref := range pkg.Spine {
		name, ok := hrefs[ref.IDRef]
		if !ok {
			continue
		}
		f := findZipFile(&zr.Reader, name)
		if f == nil {
			continue
		}
		text, err := epubDocumentText(f)
		if err != nil {
			return "", err
		}
		if text != "" {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, "\n\n"), nil
}

// epubDocumentText renders the body of an XHTML document as text. Content
// of sup, script and style elements is dropped, as are blank lines and
// lines holding only a short number.
func epubDocumentText(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()

	doc, err := html.Parse(rc)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s: %w", f.Name, err)
	}

	root := findElement(doc, atom.Body)
	if root == nil {
		root = doc
	}

	var sb strings.Builder
	renderText(&sb, root)

	var lines []string
	for _, line := range strings.Split(sb.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || bareNumber.MatchString(line) {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

func renderText(sb *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Sup, atom.Script, atom.Style:
			return
		case atom.Br:
			sb.WriteString("\n")
			return
		}
	}

	block := n.Type == html.ElementNode && isBlock(n.DataAtom)
	if block {
		sb.WriteString("\n")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderText(sb, c)
	}
	if block {
		sb.WriteString("\n")
	}
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Li, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Tr, atom.Section, atom.Article:
		return true
	}
	return false
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func decodeZipXML(zr *zip.Reader, name string, v any) error {
	f := findZipFile(zr, name)
	if f == nil {
		return fmt.Errorf("%s not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer rc.Close()

	if err := xml.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}
