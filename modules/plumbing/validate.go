package plumbing

import (
	"fmt"
	"regexp"
	"strings"
)

// Project and repository names share the same shape: a leading alphanumeric
// character followed by any mix of alphanumerics, '-', '+', '_' and '.'.
var nameRE = regexp.MustCompile(`^[A-Za-z0-9][-+_.0-9A-Za-z]*$`)

type ErrBadName struct {
	Name string
}

func (err *ErrBadName) Error() string {
	return fmt.Sprintf("bad project or repository name: '%s'", err.Name)
}

func IsErrBadName(err error) bool {
	_, ok := err.(*ErrBadName)
	return ok
}

func ValidateName(name string) error {
	if !nameRE.MatchString(name) {
		return &ErrBadName{Name: name}
	}
	return nil
}

type ErrBadPath struct {
	Path string
}

func (err *ErrBadPath) Error() string {
	return fmt.Sprintf("bad entry path: '%s'", err.Path)
}

func IsErrBadPath(err error) bool {
	_, ok := err.(*ErrBadPath)
	return ok
}

// NormalizePath validates and canonicalizes an entry path. The result is
// absolute, slash-rooted, free of empty and '.'/'..' segments, and never ends
// in '/' except for the root itself.
func NormalizePath(p string) (string, error) {
	if len(p) == 0 {
		return "", &ErrBadPath{Path: p}
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if p == "/" {
		return p, nil
	}
	parts := strings.Split(p[1:], "/")
	out := make([]string, 0, len(parts))
	for _, seg := range parts {
		switch seg {
		case "", ".", "..":
			return "", &ErrBadPath{Path: p}
		}
		if strings.ContainsAny(seg, "\x00\\") {
			return "", &ErrBadPath{Path: p}
		}
		out = append(out, seg)
	}
	return "/" + strings.Join(out, "/"), nil
}

// ParentDirs returns every ancestor directory of path, excluding the root,
// in root-first order. "/a/b/c.json" yields ["/a", "/a/b"].
func ParentDirs(path string) []string {
	var dirs []string
	for i := 1; i < len(path); i++ {
		if path[i] == '/' {
			dirs = append(dirs, path[:i])
		}
	}
	return dirs
}
