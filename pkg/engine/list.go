package engine

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Sternrassler/portal-sync/pkg/client"
	"github.com/Sternrassler/portal-sync/pkg/domain"
	"github.com/Sternrassler/portal-sync/pkg/query"
)

const itemsField = "items"

// decodeList decodes a list response: either a bare array of records or a
// paginated envelope {items: [...], ...} whose other fields are kept as
// metadata.
func decodeList(f domain.Family, data json.RawMessage) (query.Result, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		raws, err := client.Decode[[]json.RawMessage](trimmed)
		if err != nil {
			return query.Result{}, fmt.Errorf("decode %s list: %w", f, err)
		}
		records, err := domain.DecodeRecords(f, raws)
		if err != nil {
			return query.Result{}, err
		}
		return query.Result{Items: records}, nil
	}

	fields, err := client.Decode[map[string]json.RawMessage](trimmed)
	if err != nil {
		return query.Result{}, fmt.Errorf("decode %s list: %w", f, err)
	}
	rawItems, ok := fields[itemsField]
	if !ok {
		return query.Result{}, fmt.Errorf("decode %s list: response is neither a list nor a paginated envelope", f)
	}

	raws, err := client.Decode[[]json.RawMessage](rawItems)
	if err != nil {
		return query.Result{}, fmt.Errorf("decode %s items: %w", f, err)
	}
	records, err := domain.DecodeRecords(f, raws)
	if err != nil {
		return query.Result{}, err
	}

	meta := make(map[string]any, len(fields)-1)
	for k, v := range fields {
		if k == itemsField {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return query.Result{}, fmt.Errorf("decode %s meta %q: %w", f, k, err)
		}
		meta[k] = val
	}
	return query.Result{Items: records, Paginated: true, Meta: meta}, nil
}
