package splitter

import (
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// section maps a byte offset in the source to the header path in effect
// from that point on, e.g. "Installation > Prerequisites".
type section struct {
	HeaderPath string
	Offset     int
}

// markdownOutline extracts the heading hierarchy of a markdown document so
// chunks can carry the section they were cut from. A document without
// headings yields no sections.
func markdownOutline(source []byte) []section {
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
	doc := md.Parser().Parse(text.NewReader(source))

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(3),
		toc.Compact(true),
	)
	if err != nil || len(tree.Items) == 0 {
		return nil
	}

	var sections []section
	collectSections(doc, tree.Items, nil, &sections)
	sort.Slice(sections, func(i, j int) bool {
		return sections[i].Offset < sections[j].Offset
	})
	return sections
}

// collectSections walks TOC items recursively, resolving each heading to its
// byte offset in the source.
func collectSections(doc ast.Node, items toc.Items, ancestors []string, sections *[]section) {
	for _, item := range items {
		path := make([]string, 0, len(ancestors)+1)
		path = append(path, ancestors...)
		path = append(path, string(item.Title))

		heading := findHeadingByID(doc, string(item.ID))
		if heading != nil && heading.Lines().Len() > 0 {
			*sections = append(*sections, section{
				HeaderPath: strings.Join(path, " > "),
				Offset:     heading.Lines().At(0).Start,
			})
		}

		if len(item.Items) > 0 {
			collectSections(doc, item.Items, path, sections)
		}
	}
}

// findHeadingByID locates a heading node by its auto-generated ID.
func findHeadingByID(node ast.Node, id string) ast.Node {
	var found ast.Node
	ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && n.Kind() == ast.KindHeading {
			headingID, ok := n.AttributeString("id")
			if ok && string(headingID.([]byte)) == id {
				found = n
				return ast.WalkStop, nil
			}
		}
		return ast.WalkContinue, nil
	})
	return found
}

// sectionAt returns the header path covering the given offset.
func sectionAt(sections []section, offset int) string {
	current := ""
	for _, s := range sections {
		if s.Offset > offset {
			break
		}
		current = s.HeaderPath
	}
	return current
}
