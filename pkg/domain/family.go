// Package domain defines the entity families kept in sync and the pure
// mappers that turn wire records into their domain shape.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownFamily is returned when a wire family name is not recognized.
var ErrUnknownFamily = errors.New("unknown entity family")

// Family identifies one entity family. The set is closed.
type Family uint8

const (
	FamilyMembers Family = iota + 1
	FamilyEvents
	FamilyAnnouncements
	FamilyWars
)

var familyNames = map[Family]string{
	FamilyMembers:       "members",
	FamilyEvents:        "events",
	FamilyAnnouncements: "announcements",
	FamilyWars:          "wars",
}

// Families returns every known family in a stable order.
func Families() []Family {
	return []Family{FamilyMembers, FamilyEvents, FamilyAnnouncements, FamilyWars}
}

// ParseFamily resolves a wire name such as "members".
func ParseFamily(name string) (Family, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for f, s := range familyNames {
		if s == n {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFamily, name)
}

// ParseFamilies resolves a list of wire names, failing on the first unknown one.
func ParseFamilies(names []string) ([]Family, error) {
	out := make([]Family, 0, len(names))
	for _, n := range names {
		f, err := ParseFamily(n)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// String returns the wire name of the family.
func (f Family) String() string {
	if s, ok := familyNames[f]; ok {
		return s
	}
	return fmt.Sprintf("family(%d)", uint8(f))
}

// Valid reports whether f is one of the known families.
func (f Family) Valid() bool {
	_, ok := familyNames[f]
	return ok
}

// IDField is the name of the family's primary key on the wire.
func (f Family) IDField() string {
	switch f {
	case FamilyMembers:
		return "user_id"
	case FamilyEvents:
		return "event_id"
	case FamilyAnnouncements:
		return "announcement_id"
	case FamilyWars:
		return "war_id"
	default:
		return "id"
	}
}

// Path is the REST collection path for the family.
func (f Family) Path() string {
	return "/" + f.String()
}
