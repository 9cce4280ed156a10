package query

import (
	"net/url"
	"strings"

	"github.com/Sternrassler/portal-sync/pkg/domain"
)

// Kind distinguishes list results from single-record lookups.
type Kind uint8

const (
	KindList Kind = iota + 1
	KindDetail
)

func (k Kind) String() string {
	switch k {
	case KindList:
		return "list"
	case KindDetail:
		return "detail"
	default:
		return "unknown"
	}
}

// Descriptor identifies one cached result. Two descriptors are equal iff
// their String forms are equal.
type Descriptor struct {
	Family domain.Family
	Kind   Kind
	ID     string            // detail only
	Params map[string]string // list filters
}

// List returns a list descriptor for a family and optional filters.
func List(f domain.Family, params map[string]string) Descriptor {
	return Descriptor{Family: f, Kind: KindList, Params: params}
}

// Detail returns the descriptor of a single record.
func Detail(f domain.Family, id string) Descriptor {
	return Descriptor{Family: f, Kind: KindDetail, ID: id}
}

// String renders the descriptor deterministically with params sorted by key
// and query-escaped:
// "events:list", "events:list?status=open", "members:detail:u9".
func (d Descriptor) String() string {
	var b strings.Builder
	b.WriteString(d.Family.String())
	b.WriteByte(':')
	b.WriteString(d.Kind.String())

	if d.Kind == KindDetail {
		b.WriteByte(':')
		b.WriteString(d.ID)
		return b.String()
	}

	if len(d.Params) == 0 {
		return b.String()
	}
	values := make(url.Values, len(d.Params))
	for k, v := range d.Params {
		values.Set(k, v)
	}
	// Encode sorts by key and escapes, so distinct filter sets never share a key.
	b.WriteByte('?')
	b.WriteString(values.Encode())
	return b.String()
}
