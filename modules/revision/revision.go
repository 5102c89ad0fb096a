package revision

import (
	"strconv"
	"strings"

	"github.com/antgroup/dogma/modules/plumbing"
)

// Revision numbers are signed 32-bit integers on the wire. Positive values
// are absolute: 1 is the initial commit and the head is the current maximum.
// Zero and negative values are offsets from the head: 0 means HEAD, -1 means
// HEAD-1 and so on.
type Revision int64

const (
	// Init is the revision of the first commit of every repository.
	Init Revision = 1
	// Head addresses the latest commit of a repository.
	Head Revision = 0
)

func (r Revision) IsRelative() bool {
	return r <= 0
}

func (r Revision) Int() int64 { return int64(r) }

func (r Revision) String() string {
	if r == Head {
		return "head"
	}
	return strconv.FormatInt(int64(r), 10)
}

// Normalize resolves r against the given head revision. A positive revision
// must not exceed head; a relative one must not reach below the initial
// commit.
func Normalize(r, head Revision) (Revision, error) {
	if head < Init {
		return 0, plumbing.NewErrRevisionNotFound("revision: %d (head: %d)", r, head)
	}
	if r > 0 {
		if r > head {
			return 0, plumbing.NewErrRevisionNotFound("revision: %d (head: %d)", r, head)
		}
		return r, nil
	}
	abs := head + r
	if abs < Init {
		return 0, plumbing.NewErrRevisionNotFound("revision: %d (head: %d)", r, head)
	}
	return abs, nil
}

// Equivalent reports whether a and b resolve to the same absolute revision
// for the given head.
func Equivalent(a, b, head Revision) bool {
	na, err := Normalize(a, head)
	if err != nil {
		return false
	}
	nb, err := Normalize(b, head)
	if err != nil {
		return false
	}
	return na == nb
}

// Parse accepts "head", a positive absolute number or a "-N" offset.
func Parse(s string) (Revision, error) {
	if strings.EqualFold(s, "head") {
		return Head, nil
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, plumbing.NewErrRevisionNotFound("revision: %s", s)
	}
	return Revision(n), nil
}
