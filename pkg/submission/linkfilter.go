package submission

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/mit-lcp/physionet-server/dao/model"
)

// rewriteLinks replaces one serving prefix with another in the href
// and src attributes of an HTML fragment. Text without links passes
// through unchanged.
func rewriteLinks(fragment, oldPrefix, newPrefix string) (string, error) {
	if fragment == "" || !strings.Contains(fragment, oldPrefix) {
		return fragment, nil
	}
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	for _, n := range nodes {
		rewriteNode(n, oldPrefix, newPrefix)
		if err := html.Render(&buf, n); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

func rewriteNode(n *html.Node, oldPrefix, newPrefix string) {
	if n.Type == html.ElementNode {
		for i := range n.Attr {
			attr := &n.Attr[i]
			if attr.Key != "href" && attr.Key != "src" {
				continue
			}
			if strings.HasPrefix(attr.Val, oldPrefix) {
				attr.Val = newPrefix + strings.TrimPrefix(attr.Val, oldPrefix)
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		rewriteNode(c, oldPrefix, newPrefix)
	}
}

// rewriteMetadataLinks updates every rich-text field so internal file
// links point at the published serving area instead of the active one.
// Runs inside the publish transaction, before the snapshot is saved.
func rewriteMetadataLinks(meta *model.Metadata, oldPrefix, newPrefix string) error {
	fields := []*string{
		&meta.Abstract,
		&meta.Background,
		&meta.Methods,
		&meta.ContentDescription,
		&meta.UsageNotes,
		&meta.Installation,
		&meta.Acknowledgements,
		&meta.ReleaseNotes,
		&meta.EthicsStatement,
	}
	for _, f := range fields {
		rewritten, err := rewriteLinks(*f, oldPrefix, newPrefix)
		if err != nil {
			return err
		}
		*f = rewritten
	}
	return nil
}
