package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Record is a normalized entity held by the query cache.
type Record interface {
	ID() string
	Family() Family
}

// WireID accepts a primary key encoded as either a JSON string or number.
type WireID string

// UnmarshalJSON implements json.Unmarshaler.
func (w *WireID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*w = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*w = WireID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("primary key must be a string or number: %w", err)
	}
	*w = WireID(n.String())
	return nil
}

// Member is a portal member.
type Member struct {
	UserID      string
	Username    string
	DisplayName string
	Role        string
	Rank        int
	AvatarURL   string
	Active      bool
	JoinedAt    *time.Time
	LastSeenAt  *time.Time
}

func (m Member) ID() string     { return m.UserID }
func (m Member) Family() Family { return FamilyMembers }

// MemberDTO is the wire shape of a member.
type MemberDTO struct {
	UserID      WireID `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Rank        int    `json:"rank"`
	AvatarURL   string `json:"avatar_url"`
	IsActive    bool   `json:"is_active"`
	JoinedAt    string `json:"joined_at"`
	LastSeen    string `json:"last_seen"`
}

// MapMember converts a member DTO to its domain shape.
func MapMember(dto MemberDTO) Member {
	display := dto.DisplayName
	if display == "" {
		display = dto.Username
	}
	return Member{
		UserID:      string(dto.UserID),
		Username:    dto.Username,
		DisplayName: display,
		Role:        dto.Role,
		Rank:        dto.Rank,
		AvatarURL:   dto.AvatarURL,
		Active:      dto.IsActive,
		JoinedAt:    ParseTimestamp(dto.JoinedAt),
		LastSeenAt:  ParseTimestamp(dto.LastSeen),
	}
}

// Event is a scheduled guild event.
type Event struct {
	EventID     string
	Title       string
	Description string
	Location    string
	Status      string
	CreatedBy   string
	Attendees   int
	StartsAt    *time.Time
	EndsAt      *time.Time
}

func (e Event) ID() string     { return e.EventID }
func (e Event) Family() Family { return FamilyEvents }

// EventDTO is the wire shape of an event.
type EventDTO struct {
	EventID       WireID `json:"event_id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Location      string `json:"location"`
	Status        string `json:"status"`
	CreatedBy     WireID `json:"created_by"`
	AttendeeCount int    `json:"attendee_count"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
}

// MapEvent converts an event DTO to its domain shape.
func MapEvent(dto EventDTO) Event {
	return Event{
		EventID:     string(dto.EventID),
		Title:       dto.Title,
		Description: dto.Description,
		Location:    dto.Location,
		Status:      dto.Status,
		CreatedBy:   string(dto.CreatedBy),
		Attendees:   dto.AttendeeCount,
		StartsAt:    ParseTimestamp(dto.StartTime),
		EndsAt:      ParseTimestamp(dto.EndTime),
	}
}

// Announcement is a posted announcement.
type Announcement struct {
	AnnouncementID string
	Title          string
	Body           string
	AuthorID       string
	Pinned         bool
	PublishedAt    *time.Time
	UpdatedAt      *time.Time
}

func (a Announcement) ID() string     { return a.AnnouncementID }
func (a Announcement) Family() Family { return FamilyAnnouncements }

// AnnouncementDTO is the wire shape of an announcement.
type AnnouncementDTO struct {
	AnnouncementID WireID `json:"announcement_id"`
	Title          string `json:"title"`
	Content        string `json:"content"`
	AuthorID       WireID `json:"author_id"`
	IsPinned       bool   `json:"is_pinned"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// MapAnnouncement converts an announcement DTO to its domain shape.
func MapAnnouncement(dto AnnouncementDTO) Announcement {
	return Announcement{
		AnnouncementID: string(dto.AnnouncementID),
		Title:          dto.Title,
		Body:           dto.Content,
		AuthorID:       string(dto.AuthorID),
		Pinned:         dto.IsPinned,
		PublishedAt:    ParseTimestamp(dto.CreatedAt),
		UpdatedAt:      ParseTimestamp(dto.UpdatedAt),
	}
}

// War is a guild war record. Scores are carried as reported.
type War struct {
	WarID      string
	Opponent   string
	Status     string
	OurScore   int
	TheirScore int
	StartedAt  *time.Time
	EndedAt    *time.Time
}

func (w War) ID() string     { return w.WarID }
func (w War) Family() Family { return FamilyWars }

// WarDTO is the wire shape of a war record.
type WarDTO struct {
	WarID        WireID `json:"war_id"`
	OpponentName string `json:"opponent_name"`
	Status       string `json:"status"`
	OurScore     int    `json:"our_score"`
	TheirScore   int    `json:"their_score"`
	StartedAt    string `json:"started_at"`
	EndedAt      string `json:"ended_at"`
}

// MapWar converts a war DTO to its domain shape.
func MapWar(dto WarDTO) War {
	return War{
		WarID:      string(dto.WarID),
		Opponent:   dto.OpponentName,
		Status:     dto.Status,
		OurScore:   dto.OurScore,
		TheirScore: dto.TheirScore,
		StartedAt:  ParseTimestamp(dto.StartedAt),
		EndedAt:    ParseTimestamp(dto.EndedAt),
	}
}
