package server

import (
	"bytes"
	"html/template"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

const highlightStyle = "monokai"

// highlightPython renders source as inline-styled HTML. Highlighting
// failures fall back to escaped plain text.
func highlightPython(source string) template.HTML {
	lexer := lexers.Get("python")
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := styles.Get(highlightStyle)
	if style == nil {
		style = styles.Fallback
	}

	iterator, err := lexer.Tokenise(nil, source)
	if err != nil {
		return plain(source)
	}

	var buf bytes.Buffer
	formatter := chromahtml.New(chromahtml.WithClasses(false), chromahtml.TabWidth(4))
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return plain(source)
	}
	return template.HTML(buf.String()) //nolint:gosec // chroma escapes token text
}

func plain(source string) template.HTML {
	return template.HTML("<pre>" + template.HTMLEscapeString(source) + "</pre>") //nolint:gosec // escaped above
}
