package broadcast

import (
	"context"
	"sort"
	"strconv"

	"campusbot/pkg/logx"
)

// Course is a study-year partition. Valid values are 1..5 plus the
// AdminCourse sentinel; zero marks an unparseable token.
type Course int

const (
	CourseInvalid Course = 0
	AdminCourse   Course = -1
)

// ParseCourse maps one command token to a Course. The token "admin" is the
// admin-room sentinel; anything non-numeric or out of range is invalid.
func ParseCourse(tok string) Course {
	if tok == "admin" {
		return AdminCourse
	}
	n, err := strconv.Atoi(tok)
	if err != nil {
		return CourseInvalid
	}
	c := Course(n)
	if !c.Valid() {
		return CourseInvalid
	}
	return c
}

func (c Course) Valid() bool {
	return c == AdminCourse || (c >= 1 && c <= 5)
}

// BroadcastTarget reports whether the course can be targeted by a broadcast.
// Admin rooms are addressed explicitly, never by fan-out.
func (c Course) BroadcastTarget() bool {
	return c >= 1 && c <= 5
}

func (c Course) String() string {
	if c == AdminCourse {
		return "admin"
	}
	return strconv.Itoa(int(c))
}

// Scope is a typed course-scope expression: the "everyone" wildcard or a set
// of course tokens. Invalid tokens are carried as CourseInvalid and filtered
// during expansion.
type Scope struct {
	Everyone bool
	Courses  []Course
}

// Pair is one independent fan-out unit. FacultyID 0 targets the course
// across all faculties (superuser shorthand when no faculty was named).
type Pair struct {
	Course    Course
	FacultyID int64
}

// expandPairs turns the scope into the deduplicated, sorted pair list the
// dispatcher iterates. The wildcard never reaches here.
//
// Faculty resolution is best-effort for superusers: unknown names are
// dropped, not fatal, so a broadcast with one typo still reaches the rest.
// Scoped admins always target their own faculty, whatever was typed.
func expandPairs(ctx context.Context, dir Directory, admin Admin, scope Scope, facultyNames []string, log logx.Logger) ([]Pair, error) {
	courseSet := make(map[Course]struct{}, len(scope.Courses))
	for _, c := range scope.Courses {
		if c.BroadcastTarget() {
			courseSet[c] = struct{}{}
		}
	}
	if len(courseSet) == 0 {
		return nil, ErrInvalidScope
	}

	var facultyIDs []int64
	switch {
	case !admin.Superuser:
		facultyIDs = []int64{admin.FacultyID}
	case len(facultyNames) == 0:
		facultyIDs = []int64{0}
	default:
		seen := make(map[int64]struct{})
		for _, name := range facultyNames {
			id, ok, err := dir.FacultyIDByName(ctx, name)
			if err != nil {
				return nil, err
			}
			if !ok {
				log.Debug("dropping unknown faculty name", logx.String("name", name))
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			facultyIDs = append(facultyIDs, id)
		}
	}

	pairs := make([]Pair, 0, len(courseSet)*len(facultyIDs))
	for c := range courseSet {
		for _, fid := range facultyIDs {
			pairs = append(pairs, Pair{Course: c, FacultyID: fid})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Course != pairs[j].Course {
			return pairs[i].Course < pairs[j].Course
		}
		return pairs[i].FacultyID < pairs[j].FacultyID
	})
	return pairs, nil
}
