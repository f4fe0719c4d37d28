// Package engagement owns likes and comments for every content kind.
//
// Content rows live in three separate tables, so engagement rows point at
// them through a (kind, id) pair instead of a foreign key. Ref is the only
// way to build that pair; the Postgres adapter is the only place that turns
// it back into a table name and a type string.
package engagement

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindNews     Kind = "news"
	KindTopic    Kind = "topic"
	KindEvidence Kind = "evidence"
)

// Kinds lists every content kind in display order.
var Kinds = []Kind{KindNews, KindTopic, KindEvidence}

var (
	ErrInvalidKind    = errors.New("entity kind must be one of news, topic, evidence")
	ErrInvalidEntity  = errors.New("entity id must be positive")
	ErrInvalidSession = errors.New("session id must be positive")
)

// ParseKind accepts the stored type string and the plural forms used in URLs.
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "news":
		return KindNews, nil
	case "topic", "topics":
		return KindTopic, nil
	case "evidence", "evidences":
		return KindEvidence, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, value)
	}
}

func (k Kind) Valid() bool {
	switch k {
	case KindNews, KindTopic, KindEvidence:
		return true
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}

// Ref identifies one content item. The zero Ref is invalid.
type Ref struct {
	kind Kind
	id   int64
}

func News(id int64) Ref     { return Ref{kind: KindNews, id: id} }
func Topic(id int64) Ref    { return Ref{kind: KindTopic, id: id} }
func Evidence(id int64) Ref { return Ref{kind: KindEvidence, id: id} }

// ParseRef validates an untyped (kind, id) pair coming from the boundary.
func ParseRef(kind string, id int64) (Ref, error) {
	parsed, err := ParseKind(kind)
	if err != nil {
		return Ref{}, err
	}
	ref := Ref{kind: parsed, id: id}
	if err := ref.Validate(); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

func (r Ref) Kind() Kind { return r.kind }
func (r Ref) ID() int64  { return r.id }

func (r Ref) Validate() error {
	if !r.kind.Valid() {
		return ErrInvalidKind
	}
	if r.id <= 0 {
		return ErrInvalidEntity
	}
	return nil
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%d", r.kind, r.id)
}
