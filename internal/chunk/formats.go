package chunk

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

// ExtractText converts a document's raw bytes into plain text by format.
// Markdown and plain text pass through unchanged.
func ExtractText(format string, content []byte) (string, error) {
	switch format {
	case "markdown", "text", "":
		return string(content), nil
	case "html":
		return extractHTML(content)
	case "pdf":
		return extractPDF(content)
	case "docx":
		return extractDOCX(content)
	default:
		return "", errors.Newf(errors.KindInternal, "no text extractor for format %s", format)
	}
}

// htmlSkipTags hold no prose.
var htmlSkipTags = map[string]bool{
	"script": true, "style": true, "noscript": true,
	"head": true, "iframe": true, "svg": true,
}

// htmlBlockTags end a paragraph when they close.
var htmlBlockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "tr": true, "br": true, "pre": true, "blockquote": true,
}

// extractHTML renders an HTML document to plain text, one paragraph per
// block element.
func extractHTML(content []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return "", errors.Wrap(errors.KindInternal, "parse html", err)
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && htmlSkipTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
					b.WriteString(" ")
				}
				b.WriteString(text)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if n.Type == html.ElementNode && htmlBlockTags[n.Data] && b.Len() > 0 {
			b.WriteString("\n\n")
		}
	}
	walk(doc)

	return collapseBlankRuns(b.String()), nil
}

// extractPDF concatenates the plain text of every page.
func extractPDF(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", errors.Wrap(errors.KindInternal, "open pdf", err)
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A malformed page loses that page, not the document.
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimSpace(text))
	}
	return b.String(), nil
}

// docx is a zip container; the document body lives in word/document.xml as
// runs of <w:t> text grouped into <w:p> paragraphs.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", errors.Wrap(errors.KindInternal, "open docx", err)
	}

	var docFile *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", errors.New(errors.KindInternal, "docx has no word/document.xml")
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", errors.Wrap(errors.KindInternal, "read docx body", err)
	}
	defer func() { _ = rc.Close() }()

	var b strings.Builder
	var inText bool
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", errors.Wrap(errors.KindInternal, "parse docx body", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteString("\t")
			case "br":
				b.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteString("\n\n")
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return collapseBlankRuns(b.String()), nil
}

// collapseBlankRuns trims trailing space per line and squeezes runs of blank
// lines down to one separator.
func collapseBlankRuns(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := true
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
