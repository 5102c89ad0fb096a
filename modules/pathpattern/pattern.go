package pathpattern

import (
	"regexp"
	"strings"
)

// Pattern is a compiled path pattern. The syntax is a glob over absolute,
// slash-separated entry paths:
//
//	**  matches any number of path segments, including none
//	*   matches within a single segment
//	,   separates alternatives, evaluated as a union
//
// The empty pattern matches nothing; "/**" matches every entry. A pattern
// that does not start with '/' is interpreted as "/**/<pattern>".
type Pattern struct {
	source string
	res    []*regexp.Regexp
}

// All matches every entry of a repository.
var All = MustCompile("/**")

func Compile(pattern string) (*Pattern, error) {
	p := &Pattern{source: pattern}
	for _, alt := range strings.Split(pattern, ",") {
		alt = strings.TrimSpace(alt)
		if len(alt) == 0 {
			continue
		}
		if !strings.HasPrefix(alt, "/") {
			alt = "/**/" + alt
		}
		re, err := regexp.Compile(translate(alt))
		if err != nil {
			return nil, err
		}
		p.res = append(p.res, re)
	}
	return p, nil
}

func MustCompile(pattern string) *Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Pattern) String() string { return p.source }

// Matches reports whether the absolute path matches any alternative.
func (p *Pattern) Matches(path string) bool {
	for _, re := range p.res {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// MatchesAny reports whether at least one of the given paths matches.
func (p *Pattern) MatchesAny(paths []string) bool {
	for _, path := range paths {
		if p.Matches(path) {
			return true
		}
	}
	return false
}

// translate converts one glob alternative into an anchored regular
// expression. "/**/" has to match a bare "/" as well, so it becomes an
// optional group of full segments.
func translate(glob string) string {
	var b strings.Builder
	b.WriteString(`^`)
	i := 0
	for i < len(glob) {
		switch {
		case strings.HasPrefix(glob[i:], "/**/"):
			b.WriteString(`/(?:.*/)?`)
			i += 4
		case strings.HasPrefix(glob[i:], "/**"):
			b.WriteString(`/.*`)
			i += 3
		case strings.HasPrefix(glob[i:], "**"):
			b.WriteString(`.*`)
			i += 2
		case glob[i] == '*':
			b.WriteString(`[^/]*`)
			i++
		case glob[i] == '?':
			b.WriteString(`[^/]`)
			i++
		default:
			b.WriteString(regexp.QuoteMeta(glob[i : i+1]))
			i++
		}
	}
	b.WriteString(`$`)
	return b.String()
}
