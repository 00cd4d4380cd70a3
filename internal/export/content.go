package export

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// Raw HTML in note content is omitted; goldmark only passes it through
// with WithUnsafe.
var markdown = goldmark.New(
	goldmark.WithParserOptions(
		parser.WithASTTransformers(util.Prioritized(headingOffset{}, 100)),
	),
	goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
)

// ContentToHTML renders Markdown note content as HTML. Single line breaks
// are kept as <br>.
func ContentToHTML(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(content), &buf); err != nil {
		return "<pre>" + string(util.EscapeHTML([]byte(content))) + "</pre>"
	}
	return buf.String()
}

// headingOffset demotes level-one headings; the page title is the h1.
type headingOffset struct{}

func (headingOffset) Transform(doc *ast.Document, _ text.Reader, _ parser.Context) {
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if heading, ok := n.(*ast.Heading); ok && entering && heading.Level == 1 {
			heading.Level = 2
		}
		return ast.WalkContinue, nil
	})
}
