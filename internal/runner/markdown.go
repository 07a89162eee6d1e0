package runner

import (
	"bytes"

	"github.com/russross/blackfriday/v2"

	"codepad/apps/editor/internal/domain"
)

// ExtractCodeBlocks returns the fenced code blocks of a markdown reply in
// document order. The language is the first word of the fence info string.
func ExtractCodeBlocks(text string) []domain.CodeBlock {
	blocks := []domain.CodeBlock{}
	if text == "" {
		return blocks
	}
	md := blackfriday.New(blackfriday.WithExtensions(blackfriday.CommonExtensions))
	root := md.Parse([]byte(text))
	root.Walk(func(node *blackfriday.Node, entering bool) blackfriday.WalkStatus {
		if !entering || node.Type != blackfriday.CodeBlock || !node.IsFenced {
			return blackfriday.GoToNext
		}
		lang := ""
		if fields := bytes.Fields(node.Info); len(fields) > 0 {
			lang = string(fields[0])
		}
		blocks = append(blocks, domain.CodeBlock{
			Language: lang,
			Code:     string(node.Literal),
		})
		return blackfriday.GoToNext
	})
	return blocks
}

// RenderHTML renders a reply for display. Raw HTML in the reply is dropped.
func RenderHTML(text string) string {
	if text == "" {
		return ""
	}
	renderer := blackfriday.NewHTMLRenderer(blackfriday.HTMLRendererParameters{
		Flags: blackfriday.CommonHTMLFlags | blackfriday.SkipHTML,
	})
	return string(blackfriday.Run([]byte(text), blackfriday.WithRenderer(renderer)))
}
