// internal/catalog/domain.go
package catalog

import (
	"fmt"
	"strings"

	"github.com/jules-labs/lending/internal/validation"
)

// Kind is the type of a circulating item.
type Kind int

const (
	PrintedBook Kind = iota + 1
	EBook
	Audiobook
	ResearchPaper
)

var kindNames = map[Kind]string{
	PrintedBook:   "PRINTED_BOOK",
	EBook:         "E_BOOK",
	Audiobook:     "AUDIOBOOK",
	ResearchPaper: "RESEARCH_PAPER",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Digital reports whether the kind can be downloaded.
func (k Kind) Digital() bool {
	return k == EBook || k == Audiobook
}

// ParseKind accepts the upper snake case name of a kind, case-insensitively.
func ParseKind(s string) (Kind, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for k, name := range kindNames {
		if name == norm {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown item kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Status is the lifecycle state of an item.
type Status int

const (
	Available Status = iota
	CheckedOut
	Reserved
	UnderReview
)

func (s Status) String() string {
	switch s {
	case Available:
		return "AVAILABLE"
	case CheckedOut:
		return "CHECKED_OUT"
	case Reserved:
		return "RESERVED"
	case UnderReview:
		return "UNDER_REVIEW"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Item represents a book or other circulating library item.
type Item struct {
	Key     string   `json:"key" yaml:"key"`
	Title   string   `json:"title" yaml:"title"`
	Authors []string `json:"authors,omitempty" yaml:"authors"`
	Kind    Kind     `json:"kind" yaml:"kind"`
	Status  Status   `json:"status" yaml:"-"`
	Version int      `json:"version" yaml:"-"`
}

func (i Item) clone() Item {
	out := i
	out.Authors = append([]string(nil), i.Authors...)
	return out
}

// KindRule validates kind names under the "kind" tag.
func KindRule() validation.Rule {
	return validation.Rule{Tag: "kind", Valid: func(s string) bool {
		_, err := ParseKind(s)
		return err == nil
	}}
}
