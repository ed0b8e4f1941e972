package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CollectionKind names a kind of ordered list.
type CollectionKind string

const (
	// KindLessons orders the lessons of a course; the parent is the course.
	KindLessons CollectionKind = "lessons"
	// KindPosts orders the posts of a lesson; the parent is the lesson.
	KindPosts CollectionKind = "posts"
)

// Valid reports whether k is a known kind.
func (k CollectionKind) Valid() bool {
	return k == KindLessons || k == KindPosts
}

// Collection identifies one ordered list: the lessons of a given course or
// the posts of a given lesson.
type Collection struct {
	Kind     CollectionKind
	ParentID uuid.UUID
}

// LessonsOf returns the lesson list of a course.
func LessonsOf(courseID uuid.UUID) Collection {
	return Collection{Kind: KindLessons, ParentID: courseID}
}

// PostsOf returns the post list of a lesson.
func PostsOf(lessonID uuid.UUID) Collection {
	return Collection{Kind: KindPosts, ParentID: lessonID}
}

// String returns the canonical "kind:parent" form used as the storage key.
func (c Collection) String() string {
	return string(c.Kind) + ":" + c.ParentID.String()
}

// Validate checks the kind and that a parent is set.
func (c Collection) Validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCollection, c.Kind)
	}
	if c.ParentID == uuid.Nil {
		return fmt.Errorf("%w: missing parent id", ErrInvalidCollection)
	}
	return nil
}

// NewCollection builds and validates a collection from its parts.
func NewCollection(kind, parent string) (Collection, error) {
	id, err := uuid.Parse(parent)
	if err != nil {
		return Collection{}, fmt.Errorf("%w: parent %q: %v", ErrInvalidCollection, parent, err)
	}
	c := Collection{Kind: CollectionKind(kind), ParentID: id}
	if err := c.Validate(); err != nil {
		return Collection{}, err
	}
	return c, nil
}

// ParseCollection parses the canonical "kind:parent" form.
func ParseCollection(s string) (Collection, error) {
	kind, parent, ok := strings.Cut(s, ":")
	if !ok {
		return Collection{}, fmt.Errorf("%w: %q", ErrInvalidCollection, s)
	}
	return NewCollection(kind, parent)
}
