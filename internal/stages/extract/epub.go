package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"path"
	"sort"
	"strings"
)

const containerPath = "META-INF/container.xml"

type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type epubPackage struct {
	Manifest struct {
		Items []struct {
			ID        string `xml:"id,attr"`
			Href      string `xml:"href,attr"`
			MediaType string `xml:"media-type,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		ItemRefs []struct {
			IDRef  string `xml:"idref,attr"`
			Linear string `xml:"linear,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

// extractEPUBText reads an EPUB archive and concatenates the text of
// its spine documents in reading order. Archives without a usable OPF
// fall back to all XHTML entries in path order.
func extractEPUBText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("not a valid epub archive: %w", err)
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	docs := spineDocuments(files)
	if len(docs) == 0 {
		docs = fallbackDocuments(zr.File)
	}
	if len(docs) == 0 {
		return "", fmt.Errorf("epub contains no content documents")
	}

	var sb strings.Builder
	for _, name := range docs {
		f, ok := files[name]
		if !ok {
			continue
		}
		raw, err := readZipFile(f)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", name, err)
		}
		sb.WriteString(textFromMarkup(raw))
		sb.WriteString("\n\n")
	}
	return sb.String(), nil
}

// spineDocuments resolves the OPF spine to archive entry names.
func spineDocuments(files map[string]*zip.File) []string {
	cf, ok := files[containerPath]
	if !ok {
		return nil
	}
	raw, err := readZipFile(cf)
	if err != nil {
		return nil
	}

	var container epubContainer
	if err := xml.Unmarshal(raw, &container); err != nil || len(container.Rootfiles) == 0 {
		return nil
	}
	opfPath := container.Rootfiles[0].FullPath
	opf, ok := files[opfPath]
	if !ok {
		return nil
	}
	raw, err = readZipFile(opf)
	if err != nil {
		return nil
	}

	var pkg epubPackage
	if err := xml.Unmarshal(raw, &pkg); err != nil {
		return nil
	}

	hrefs := make(map[string]string, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		if strings.Contains(item.MediaType, "xhtml") || strings.Contains(item.MediaType, "html") {
			hrefs[item.ID] = item.Href
		}
	}

	base := path.Dir(opfPath)
	var docs []string
	for _, ref := range pkg.Spine.ItemRefs {
		if ref.Linear == "no" {
			continue
		}
		href, ok := hrefs[ref.IDRef]
		if !ok {
			continue
		}
		name := href
		if base != "." {
			name = path.Join(base, href)
		}
		docs = append(docs, name)
	}
	return docs
}

// fallbackDocuments returns all XHTML entries sorted by path.
func fallbackDocuments(files []*zip.File) []string {
	var docs []string
	for _, f := range files {
		ext := strings.ToLower(path.Ext(f.Name))
		if ext == ".xhtml" || ext == ".html" || ext == ".htm" {
			docs = append(docs, f.Name)
		}
	}
	sort.Strings(docs)
	return docs
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// textFromMarkup strips tags from an (X)HTML document, dropping script
// and style bodies and turning block boundaries into newlines.
func textFromMarkup(raw []byte) string {
	var (
		sb     strings.Builder
		inTag  bool
		tag    strings.Builder
		skip   string // currently-open tag whose body is dropped
		markup = string(raw)
	)

	for i := 0; i < len(markup); i++ {
		c := markup[i]
		switch {
		case c == '<':
			inTag = true
			tag.Reset()
		case c == '>' && inTag:
			inTag = false
			name := tagName(tag.String())
			switch {
			case skip == "" && (name == "script" || name == "style" || name == "head"):
				skip = name
			case skip != "" && name == "/"+skip:
				skip = ""
			case isBlockTag(name):
				sb.WriteByte('\n')
			}
		case inTag:
			tag.WriteByte(c)
		case skip == "":
			sb.WriteByte(c)
		}
	}
	return html.UnescapeString(sb.String())
}

func tagName(tag string) string {
	tag = strings.TrimSpace(strings.ToLower(tag))
	for i, r := range tag {
		if r == ' ' || r == '\t' || r == '\n' {
			return tag[:i]
		}
	}
	return tag
}

func isBlockTag(name string) bool {
	name = strings.TrimPrefix(name, "/")
	switch name {
	case "p", "div", "br", "br/", "h1", "h2", "h3", "h4", "h5", "h6", "li", "tr", "section", "article", "blockquote":
		return true
	}
	return false
}
