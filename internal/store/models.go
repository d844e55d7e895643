package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/welnecker/roleplay/backend/internal/model/canon"
	"github.com/welnecker/roleplay/backend/internal/model/chat"
)

// factRecord.Value holds encoded JSON in a TEXT column; sqlite would turn a
// JSON column holding 6 into an INTEGER that datatypes.JSON cannot scan.
type factRecord struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	Identity     string `gorm:"type:varchar(191);not null"`
	IdentityNorm string `gorm:"type:varchar(191);not null;uniqueIndex:uniq_fact_identity_key,priority:1"`
	Key          string `gorm:"column:fact_key;type:varchar(128);not null;uniqueIndex:uniq_fact_identity_key,priority:2"`
	Value        string `gorm:"type:text;not null"`
	Meta         datatypes.JSON
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (factRecord) TableName() string { return "facts" }

func (r factRecord) toFact() canon.Fact {
	f := canon.Fact{Key: r.Key, Value: decodeValue(r.Value)}
	if len(r.Meta) > 0 {
		_ = json.Unmarshal(r.Meta, &f.Meta)
	}
	return f
}

type eventRecord struct {
	ID           string `gorm:"primaryKey;type:varchar(26)"`
	Identity     string `gorm:"type:varchar(191);not null"`
	IdentityNorm string `gorm:"type:varchar(191);not null;index:idx_event_identity_type,priority:1"`
	Type         string `gorm:"column:event_type;type:varchar(64);not null;index:idx_event_identity_type,priority:2"`
	Description  string `gorm:"type:text"`
	Location     string `gorm:"type:varchar(128)"`
	Tags         datatypes.JSON
	Meta         datatypes.JSON
	Timestamp    time.Time `gorm:"column:ts;not null;index"`
}

func (eventRecord) TableName() string { return "events" }

func (r eventRecord) toEvent() canon.Event {
	ev := canon.Event{
		ID:          r.ID,
		Identity:    r.Identity,
		Type:        r.Type,
		Description: r.Description,
		Location:    r.Location,
		Timestamp:   r.Timestamp.UTC(),
		Tags:        []string{},
	}
	if len(r.Tags) > 0 {
		_ = json.Unmarshal(r.Tags, &ev.Tags)
	}
	if len(r.Meta) > 0 {
		_ = json.Unmarshal(r.Meta, &ev.Meta)
	}
	return ev
}

// Seq keeps insertion order; ID is the public sortable identifier.
type interactionRecord struct {
	Seq              uint64    `gorm:"primaryKey;autoIncrement"`
	ID               string    `gorm:"type:varchar(26);uniqueIndex;not null"`
	Identity         string    `gorm:"type:varchar(191);not null"`
	IdentityNorm     string    `gorm:"type:varchar(191);not null;index"`
	UserMessage      string    `gorm:"type:text;not null"`
	AssistantMessage string    `gorm:"type:text;not null"`
	ModelUsed        string    `gorm:"type:varchar(128)"`
	CreatedAt        time.Time `gorm:"not null"`
}

func (interactionRecord) TableName() string { return "interactions" }

func (r interactionRecord) toInteraction() chat.Interaction {
	return chat.Interaction{
		ID:               r.ID,
		Identity:         r.Identity,
		UserMessage:      r.UserMessage,
		AssistantMessage: r.AssistantMessage,
		ModelUsed:        r.ModelUsed,
		CreatedAt:        r.CreatedAt.UTC(),
	}
}

func encodeJSON(v any) (datatypes.JSON, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func encodeValue(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// decodeValue yields JSON-native types: numbers come back as float64.
func decodeValue(raw string) any {
	if raw == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
