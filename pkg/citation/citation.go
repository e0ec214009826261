// Package citation renders the recommended citation of a project in
// the supported bibliographic styles. Rendering is a pure function of
// frozen metadata; unpublished projects get a placeholder DOI.
package citation

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// PlaceholderDOI appears in citation previews before registration.
const PlaceholderDOI = "10.13026/*****"

// Style is a supported citation format.
type Style string

const (
	StyleMLA       Style = "MLA"
	StyleAPA       Style = "APA"
	StyleChicago   Style = "Chicago"
	StyleHarvard   Style = "Harvard"
	StyleVancouver Style = "Vancouver"
)

// AllStyles lists the supported styles in display order.
func AllStyles() []Style {
	return []Style{StyleMLA, StyleAPA, StyleChicago, StyleHarvard, StyleVancouver}
}

// Author is one frozen author name.
type Author struct {
	FirstNames string
	LastName   string
}

func (a Author) initials() string {
	parts := strings.Fields(a.FirstNames)
	initials := lo.Map(parts, func(p string, _ int) string {
		return string([]rune(p)[0]) + "."
	})
	return strings.Join(initials, " ")
}

// Project is the metadata a citation is rendered from.
type Project struct {
	Authors  []Author
	Title    string
	Version  string
	Year     int
	DOI      string // empty renders the placeholder
	SiteName string
}

func (p Project) doi() string {
	if p.DOI == "" {
		return PlaceholderDOI
	}
	return p.DOI
}

// Format renders the citation in the requested style.
func Format(p Project, style Style) string {
	switch style {
	case StyleAPA:
		return fmt.Sprintf("%s (%d). %s (version %s). %s. https://doi.org/%s",
			apaAuthors(p.Authors), p.Year, p.Title, p.Version, p.SiteName, p.doi())
	case StyleChicago:
		return fmt.Sprintf("%s %d. \"%s\" (version %s). %s. https://doi.org/%s.",
			chicagoAuthors(p.Authors), p.Year, p.Title, p.Version, p.SiteName, p.doi())
	case StyleHarvard:
		return fmt.Sprintf("%s (%d) '%s' (version %s), %s. Available at: https://doi.org/%s.",
			chicagoAuthors(p.Authors), p.Year, p.Title, p.Version, p.SiteName, p.doi())
	case StyleVancouver:
		return fmt.Sprintf("%s %s (version %s). %s. %d. Available from: https://doi.org/%s.",
			vancouverAuthors(p.Authors), p.Title, p.Version, p.SiteName, p.Year, p.doi())
	default:
		return fmt.Sprintf("%s \"%s\" (version %s). %s (%d), https://doi.org/%s.",
			mlaAuthors(p.Authors), p.Title, p.Version, p.SiteName, p.Year, p.doi())
	}
}

// FormatAll renders every style keyed by name.
func FormatAll(p Project) map[Style]string {
	result := make(map[Style]string, len(AllStyles()))
	for _, s := range AllStyles() {
		result[s] = Format(p, s)
	}
	return result
}

// mlaAuthors renders "Last, First" for a single author, both names for
// two, and the first author with "et al." beyond that.
func mlaAuthors(authors []Author) string {
	switch len(authors) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s, %s.", authors[0].LastName, authors[0].FirstNames)
	case 2:
		return fmt.Sprintf("%s, %s, and %s %s.",
			authors[0].LastName, authors[0].FirstNames,
			authors[1].FirstNames, authors[1].LastName)
	default:
		return fmt.Sprintf("%s, %s, et al.", authors[0].LastName, authors[0].FirstNames)
	}
}

// apaAuthors renders "Last, F." lists with an ampersand before the
// final author. Beyond 20 authors the first 19 are kept, an ellipsis
// inserted, and the last author appended, per the APA rule.
func apaAuthors(authors []Author) string {
	name := func(a Author) string {
		return fmt.Sprintf("%s, %s", a.LastName, a.initials())
	}
	switch n := len(authors); {
	case n == 0:
		return ""
	case n == 1:
		return name(authors[0])
	case n <= 20:
		names := lo.Map(authors[:n-1], func(a Author, _ int) string { return name(a) })
		return strings.Join(names, ", ") + ", & " + name(authors[n-1])
	default:
		names := lo.Map(authors[:19], func(a Author, _ int) string { return name(a) })
		return strings.Join(names, ", ") + ", ... " + name(authors[n-1])
	}
}

// chicagoAuthors renders the first author inverted and the rest in
// natural order, joined with "and" before the last.
func chicagoAuthors(authors []Author) string {
	switch n := len(authors); {
	case n == 0:
		return ""
	case n == 1:
		return fmt.Sprintf("%s, %s.", authors[0].LastName, authors[0].FirstNames)
	default:
		parts := make([]string, 0, n)
		parts = append(parts, fmt.Sprintf("%s, %s", authors[0].LastName, authors[0].FirstNames))
		for _, a := range authors[1 : n-1] {
			parts = append(parts, fmt.Sprintf("%s %s", a.FirstNames, a.LastName))
		}
		last := authors[n-1]
		return strings.Join(parts, ", ") + fmt.Sprintf(", and %s %s.", last.FirstNames, last.LastName)
	}
}

// vancouverAuthors renders "Last F" without punctuation, comma joined.
func vancouverAuthors(authors []Author) string {
	names := lo.Map(authors, func(a Author, _ int) string {
		initials := strings.ReplaceAll(strings.ReplaceAll(a.initials(), ".", ""), " ", "")
		return strings.TrimSpace(a.LastName + " " + initials)
	})
	return strings.Join(names, ", ") + "."
}
