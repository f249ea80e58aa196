// Package loginpage applies login branding to the device login page on its
// way through the gateway, so the page renders branded without its own
// scripts having to run.
package loginpage

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/IIAteeneaaII/ontester/internal/login"
)

// Rewrite parses the page, applies ops in order and renders it again. The
// selectors that matched nothing are returned so callers can log drift
// between firmware versions.
func Rewrite(r io.Reader, ops []login.DOMOp) ([]byte, []string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, nil, fmt.Errorf("parse login page: %w", err)
	}
	missed, err := Apply(doc, ops)
	if err != nil {
		return nil, nil, err
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, nil, fmt.Errorf("render login page: %w", err)
	}
	return buf.Bytes(), missed, nil
}

// Apply runs ops against an already parsed document.
func Apply(doc *html.Node, ops []login.DOMOp) ([]string, error) {
	compiled := map[string]cascadia.Sel{}
	var missed []string
	for _, op := range ops {
		sel, ok := compiled[op.Selector]
		if !ok {
			s, err := cascadia.Parse(op.Selector)
			if err != nil {
				return nil, fmt.Errorf("selector %q: %w", op.Selector, err)
			}
			sel = s
			compiled[op.Selector] = s
		}
		nodes := cascadia.QueryAll(doc, sel)
		if len(nodes) == 0 {
			missed = append(missed, op.Selector)
			continue
		}
		for _, n := range nodes {
			apply(n, op)
		}
	}
	return missed, nil
}

func apply(n *html.Node, op login.DOMOp) {
	switch op.Kind {
	case login.OpShow:
		removeAttr(n, "hidden")
		setStyle(n, "display", "")
	case login.OpHide:
		setStyle(n, "display", "none")
	case login.OpText:
		setText(n, op.Value)
		if op.I18n {
			setAttr(n, "data-i18n", op.Value)
		}
	case login.OpAttr:
		setAttr(n, op.Name, op.Value)
		if op.I18n {
			setAttr(n, "data-i18n-"+op.Name, op.Value)
		}
	case login.OpCSS:
		setStyle(n, op.Name, op.Value)
	case login.OpValue:
		setValue(n, op.Value)
	}
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}

func setText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

func setValue(n *html.Node, val string) {
	switch n.DataAtom {
	case atom.Textarea:
		setText(n, val)
	case atom.Select:
		for _, opt := range cascadia.QueryAll(n, cascadia.MustCompile("option")) {
			v, ok := getAttr(opt, "value")
			if !ok {
				v = textOf(opt)
			}
			if v == val {
				setAttr(opt, "selected", "selected")
			} else {
				removeAttr(opt, "selected")
			}
		}
	default:
		setAttr(n, "value", val)
	}
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return strings.TrimSpace(sb.String())
}

// setStyle sets one property of the inline style, keeping the others in
// their original order. An empty value removes the property.
func setStyle(n *html.Node, prop, val string) {
	prop = strings.ToLower(strings.TrimSpace(prop))
	inline, _ := getAttr(n, "style")
	decls := parseStyle(inline)

	found := false
	out := decls[:0]
	for _, d := range decls {
		if d.prop == prop {
			if found || val == "" {
				continue
			}
			d.val, d.important = val, false
			found = true
		}
		out = append(out, d)
	}
	if !found && val != "" {
		out = append(out, styleDecl{prop: prop, val: val})
	}

	if len(out) == 0 {
		removeAttr(n, "style")
		return
	}
	setAttr(n, "style", renderStyle(out))
}

type styleDecl struct {
	prop      string
	val       string
	important bool
}

func parseStyle(inline string) []styleDecl {
	inline = strings.TrimSpace(inline)
	if inline == "" {
		return nil
	}
	var out []styleDecl
	if decls, err := parser.ParseDeclarations(inline); err == nil {
		for _, d := range decls {
			if d == nil {
				continue
			}
			out = append(out, styleDecl{
				prop:      strings.ToLower(strings.TrimSpace(d.Property)),
				val:       strings.TrimSpace(d.Value),
				important: d.Important,
			})
		}
		return out
	}
	// firmware pages carry some broken inline styles; keep what splits cleanly
	for _, part := range strings.Split(inline, ";") {
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			continue
		}
		out = append(out, styleDecl{prop: strings.ToLower(strings.TrimSpace(kv[0])), val: strings.TrimSpace(kv[1])})
	}
	return out
}

func renderStyle(decls []styleDecl) string {
	parts := make([]string, 0, len(decls))
	for _, d := range decls {
		s := d.prop + ": " + d.val
		if d.important {
			s += " !important"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "; ")
}

// Missed collapses repeated selectors for logging.
func Missed(missed []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range missed {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}
