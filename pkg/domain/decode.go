package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingID is returned when a wire record has no primary key.
var ErrMissingID = errors.New("record has no primary key")

// DecodeRecord decodes one wire record of the given family and maps it.
func DecodeRecord(f Family, raw json.RawMessage) (Record, error) {
	var rec Record
	switch f {
	case FamilyMembers:
		var dto MemberDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f, err)
		}
		rec = MapMember(dto)
	case FamilyEvents:
		var dto EventDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f, err)
		}
		rec = MapEvent(dto)
	case FamilyAnnouncements:
		var dto AnnouncementDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f, err)
		}
		rec = MapAnnouncement(dto)
	case FamilyWars:
		var dto WarDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f, err)
		}
		rec = MapWar(dto)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFamily, f)
	}

	if rec.ID() == "" {
		return nil, fmt.Errorf("decode %s: %w (%s)", f, ErrMissingID, f.IDField())
	}
	return rec, nil
}

// DecodeRecords decodes and maps a batch of wire records, failing on the
// first bad one so callers never apply a partial batch.
func DecodeRecords(f Family, raws []json.RawMessage) ([]Record, error) {
	out := make([]Record, 0, len(raws))
	for i, raw := range raws {
		rec, err := DecodeRecord(f, raw)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
