// ABOUTME: Renders markdown message payloads as plain terminal text
// ABOUTME: Walks the goldmark AST; emphasis and code are coloured when the terminal supports it

package render

import (
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

var (
	parser     goldmark.Markdown
	parserOnce sync.Once
)

func markdownParser() goldmark.Markdown {
	parserOnce.Do(func() {
		parser = goldmark.New(goldmark.WithExtensions(extension.Strikethrough, extension.Linkify))
	})
	return parser
}

var (
	boldStyle = color.New(color.Bold)
	codeStyle = color.New(color.FgCyan)
	ruleStyle = color.New(color.FgHiBlack)
)

// Markdown renders src for a terminal. Paragraphs are separated by a blank
// line, soft line breaks become spaces, list items get bullets, code blocks
// are indented, and links are followed by their target.
func Markdown(src string) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}
	source := []byte(src)
	doc := markdownParser().Parser().Parse(text.NewReader(source))

	r := &textRenderer{source: source}
	_ = ast.Walk(doc, r.walk)
	r.flushLine()

	return strings.Trim(strings.Join(r.lines, "\n"), "\n")
}

type listState struct {
	ordered bool
	next    int
}

type textRenderer struct {
	source []byte
	lines  []string
	inline strings.Builder

	bold   int
	code   int
	quote  int
	lists  []listState
	bullet string // prefix for the next emitted line of the current list item
}

func (r *textRenderer) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch n := n.(type) {
	case *ast.Heading:
		if entering {
			r.bold++
		} else {
			r.bold--
			r.flushBlock()
		}

	case *ast.Paragraph:
		if !entering {
			r.flushBlock()
		}

	case *ast.TextBlock:
		if !entering {
			r.flushLine()
		}

	case *ast.Text:
		if entering {
			r.write(string(n.Segment.Value(r.source)))
			switch {
			case n.HardLineBreak():
				r.flushLine()
			case n.SoftLineBreak():
				r.inline.WriteByte(' ')
			}
		}

	case *ast.String:
		if entering {
			r.write(string(n.Value))
		}

	case *ast.Emphasis:
		if entering {
			r.bold++
		} else {
			r.bold--
		}

	case *ast.CodeSpan:
		if entering {
			r.code++
		} else {
			r.code--
		}

	case *ast.FencedCodeBlock, *ast.CodeBlock:
		if entering {
			r.flushLine()
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				line := strings.TrimRight(string(seg.Value(r.source)), "\r\n")
				r.emit(r.prefix() + "    " + codeStyle.Sprint(line))
			}
			r.blank()
		}
		return ast.WalkSkipChildren, nil

	case *ast.List:
		if entering {
			r.flushLine()
			r.lists = append(r.lists, listState{ordered: n.IsOrdered(), next: n.Start})
		} else {
			r.lists = r.lists[:len(r.lists)-1]
			if len(r.lists) == 0 {
				r.blank()
			}
		}

	case *ast.ListItem:
		if entering {
			top := &r.lists[len(r.lists)-1]
			if top.ordered {
				r.bullet = strconv.Itoa(top.next) + ". "
				top.next++
			} else {
				r.bullet = "• "
			}
		}

	case *ast.Link:
		if !entering {
			r.inline.WriteString(" (" + string(n.Destination) + ")")
		}

	case *ast.Image:
		if !entering {
			r.inline.WriteString(" (" + string(n.Destination) + ")")
		}

	case *ast.AutoLink:
		if entering {
			r.write(string(n.URL(r.source)))
		}
		return ast.WalkSkipChildren, nil

	case *ast.Blockquote:
		if entering {
			r.quote++
		} else {
			r.quote--
			if r.quote == 0 {
				r.blank()
			}
		}

	case *ast.ThematicBreak:
		if entering {
			r.emit(ruleStyle.Sprint(strings.Repeat("─", 20)))
			r.blank()
		}

	case *ast.HTMLBlock, *ast.RawHTML:
		return ast.WalkSkipChildren, nil
	}

	return ast.WalkContinue, nil
}

// write appends inline text in the current style.
func (r *textRenderer) write(s string) {
	switch {
	case s == "":
	case r.code > 0:
		r.inline.WriteString(codeStyle.Sprint(s))
	case r.bold > 0:
		r.inline.WriteString(boldStyle.Sprint(s))
	default:
		r.inline.WriteString(s)
	}
}

// prefix is the quote and list indentation for the next line.
func (r *textRenderer) prefix() string {
	var b strings.Builder
	for i := 0; i < r.quote; i++ {
		b.WriteString("│ ")
	}
	if len(r.lists) > 0 {
		b.WriteString(strings.Repeat("  ", len(r.lists)-1))
		if r.bullet != "" {
			b.WriteString(r.bullet)
			r.bullet = ""
		} else {
			b.WriteString("  ")
		}
	}
	return b.String()
}

func (r *textRenderer) flushLine() {
	line := strings.TrimRight(r.inline.String(), " ")
	r.inline.Reset()
	if line == "" {
		return
	}
	r.emit(r.prefix() + line)
}

// flushBlock ends a paragraph; outside lists a blank line follows it.
func (r *textRenderer) flushBlock() {
	r.flushLine()
	if len(r.lists) == 0 {
		r.blank()
	}
}

func (r *textRenderer) emit(line string) {
	r.lines = append(r.lines, line)
}

func (r *textRenderer) blank() {
	if len(r.lines) > 0 && r.lines[len(r.lines)-1] != "" {
		r.lines = append(r.lines, "")
	}
}
