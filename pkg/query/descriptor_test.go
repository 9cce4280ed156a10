package query

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sternrassler/portal-sync/pkg/domain"
)

func TestDescriptor_String(t *testing.T) {
	tests := []struct {
		name string
		desc Descriptor
		want string
	}{
		{"bare list", List(domain.FamilyEvents, nil), "events:list"},
		{"filtered list", List(domain.FamilyMembers, map[string]string{"role": "officer", "active": "true"}), "members:list?active=true&role=officer"},
		{"escaped values", List(domain.FamilyEvents, map[string]string{"q": "raid & loot"}), "events:list?q=raid+%26+loot"},
		{"detail", Detail(domain.FamilyMembers, "u9"), "members:detail:u9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.desc.String())
		})
	}
}

func TestDescriptor_EqualitySerialization(t *testing.T) {
	a := List(domain.FamilyWars, map[string]string{"status": "active", "page": "1"})
	b := List(domain.FamilyWars, map[string]string{"page": "1", "status": "active"})
	c := List(domain.FamilyWars, map[string]string{"page": "2", "status": "active"})

	assert.Equal(t, a.String(), b.String())
	assert.NotEqual(t, a.String(), c.String())
	assert.NotEqual(t, List(domain.FamilyWars, nil).String(), List(domain.FamilyEvents, nil).String())
}

func TestDescriptor_DelimitersInParamsDoNotCollide(t *testing.T) {
	packed := List(domain.FamilyEvents, map[string]string{"a": "1&b=2"})
	split := List(domain.FamilyEvents, map[string]string{"a": "1", "b": "2"})
	assert.NotEqual(t, packed.String(), split.String())

	s := New(DefaultConfig())
	s.SetList(packed, Result{Items: []domain.Record{domain.Event{EventID: "e1"}}})

	_, ok := s.Read(split)
	assert.False(t, ok, "a different filter set must not read another list's entry")
	e, ok := s.Read(packed)
	assert.True(t, ok)
	assert.Len(t, e.List.Items, 1)
}
