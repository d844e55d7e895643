package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/welnecker/roleplay/backend/internal/model/canon"
	"github.com/welnecker/roleplay/backend/internal/model/chat"
)

// GormStore implements Repository on any gorm dialect.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore wraps an opened, migrated database.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

var _ Repository = (*GormStore)(nil)

// SetFact upserts one fact; the newest write wins.
func (s *GormStore) SetFact(ctx context.Context, id chat.Identity, key string, value any, meta canon.Meta) error {
	return s.setFact(s.db.WithContext(ctx), id, key, value, meta)
}

func (s *GormStore) setFact(tx *gorm.DB, id chat.Identity, key string, value any, meta canon.Meta) error {
	if meta.SetAt.IsZero() {
		meta.SetAt = s.now()
	}
	rawValue, err := encodeValue(value)
	if err != nil {
		return err
	}
	rawMeta, err := encodeJSON(meta)
	if err != nil {
		return err
	}
	rec := factRecord{
		Identity:     id.Key(),
		IdentityNorm: id.NormalizedKey(),
		Key:          key,
		Value:        rawValue,
		Meta:         rawMeta,
	}
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity_norm"}, {Name: "fact_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"identity", "value", "meta", "updated_at"}),
	}).Create(&rec).Error
	return wrap("set fact", err)
}

// GetFact returns def when the identity or key is absent.
func (s *GormStore) GetFact(ctx context.Context, id chat.Identity, key string, def any) (any, error) {
	var rec factRecord
	err := s.db.WithContext(ctx).
		Where("identity_norm = ? AND fact_key = ?", id.NormalizedKey(), key).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return def, nil
	}
	if err != nil {
		return def, wrap("get fact", err)
	}
	return decodeValue(rec.Value), nil
}

// GetFacts never returns nil; unknown identities yield an empty map.
func (s *GormStore) GetFacts(ctx context.Context, id chat.Identity) (canon.Facts, error) {
	facts, err := s.ListFacts(ctx, id)
	if err != nil {
		return canon.Facts{}, err
	}
	out := make(canon.Facts, len(facts))
	for _, f := range facts {
		out[f.Key] = f.Value
	}
	return out, nil
}

// ListFacts returns facts with their metadata, ordered by key.
func (s *GormStore) ListFacts(ctx context.Context, id chat.Identity) ([]canon.Fact, error) {
	var recs []factRecord
	if err := s.db.WithContext(ctx).
		Where("identity_norm = ?", id.NormalizedKey()).
		Order("fact_key ASC").
		Find(&recs).Error; err != nil {
		return nil, wrap("list facts", err)
	}
	out := make([]canon.Fact, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toFact())
	}
	return out, nil
}

func (s *GormStore) DeleteFact(ctx context.Context, id chat.Identity, key string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("identity_norm = ? AND fact_key = ?", id.NormalizedKey(), key).
		Delete(&factRecord{})
	if res.Error != nil {
		return false, wrap("delete fact", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// RegisterEvent appends an event. ID and timestamp are filled when empty.
func (s *GormStore) RegisterEvent(ctx context.Context, id chat.Identity, ev canon.Event) (canon.Event, error) {
	return s.registerEvent(s.db.WithContext(ctx), id, ev)
}

func (s *GormStore) registerEvent(tx *gorm.DB, id chat.Identity, ev canon.Event) (canon.Event, error) {
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	if ev.Tags == nil {
		ev.Tags = []string{}
	}
	ev.Identity = id.Key()
	tags, err := encodeJSON(ev.Tags)
	if err != nil {
		return ev, err
	}
	rec := eventRecord{
		ID:           ev.ID,
		Identity:     ev.Identity,
		IdentityNorm: id.NormalizedKey(),
		Type:         ev.Type,
		Description:  ev.Description,
		Location:     strings.TrimSpace(ev.Location),
		Tags:         tags,
		Timestamp:    ev.Timestamp,
	}
	if ev.Meta != nil {
		if rec.Meta, err = encodeJSON(ev.Meta); err != nil {
			return ev, err
		}
	}
	if err := tx.Create(&rec).Error; err != nil {
		return ev, wrap("register event", err)
	}
	return ev, nil
}

// LastEvent returns the newest event of the type, or nil.
func (s *GormStore) LastEvent(ctx context.Context, id chat.Identity, eventType string) (*canon.Event, error) {
	var rec eventRecord
	err := s.db.WithContext(ctx).
		Where("identity_norm = ? AND event_type = ?", id.NormalizedKey(), eventType).
		Order("ts DESC").Order("id DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("last event", err)
	}
	ev := rec.toEvent()
	return &ev, nil
}

// ListEvents returns events newest first. limit <= 0 means all.
func (s *GormStore) ListEvents(ctx context.Context, id chat.Identity, limit int) ([]canon.Event, error) {
	q := s.db.WithContext(ctx).
		Where("identity_norm = ?", id.NormalizedKey()).
		Order("ts DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []eventRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, wrap("list events", err)
	}
	out := make([]canon.Event, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toEvent())
	}
	return out, nil
}

func (s *GormStore) DeleteEvent(ctx context.Context, id chat.Identity, eventID string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("identity_norm = ? AND id = ?", id.NormalizedKey(), eventID).
		Delete(&eventRecord{})
	if res.Error != nil {
		return false, wrap("delete event", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// SaveInteraction appends one completed turn together with its events.
func (s *GormStore) SaveInteraction(ctx context.Context, id chat.Identity, it chat.Interaction, events ...canon.Event) (chat.Interaction, error) {
	if it.ID == "" {
		it.ID = ulid.Make().String()
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = s.now()
	}
	it.Identity = id.Key()
	rec := interactionRecord{
		ID:               it.ID,
		Identity:         it.Identity,
		IdentityNorm:     id.NormalizedKey(),
		UserMessage:      it.UserMessage,
		AssistantMessage: it.AssistantMessage,
		ModelUsed:        it.ModelUsed,
		CreatedAt:        it.CreatedAt,
	}
	if len(events) == 0 {
		if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
			return it, wrap("save interaction", err)
		}
		return it, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		for _, ev := range events {
			if _, err := s.registerEvent(tx, id, ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return it, wrap("save interaction", err)
	}
	return it, nil
}

// ListInteractions returns the newest limit turns in insertion order.
func (s *GormStore) ListInteractions(ctx context.Context, id chat.Identity, limit int) ([]chat.Interaction, error) {
	q := s.db.WithContext(ctx).
		Where("identity_norm = ?", id.NormalizedKey()).
		Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []interactionRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, wrap("list interactions", err)
	}
	out := make([]chat.Interaction, len(recs))
	for i, r := range recs {
		out[len(recs)-1-i] = r.toInteraction()
	}
	return out, nil
}

func (s *GormStore) LastInteraction(ctx context.Context, id chat.Identity) (*chat.Interaction, error) {
	var rec interactionRecord
	err := s.db.WithContext(ctx).
		Where("identity_norm = ?", id.NormalizedKey()).
		Order("seq DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("last interaction", err)
	}
	it := rec.toInteraction()
	return &it, nil
}

func (s *GormStore) DeleteHistory(ctx context.Context, id chat.Identity) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("identity_norm = ?", id.NormalizedKey()).
		Delete(&interactionRecord{})
	if res.Error != nil {
		return 0, wrap("delete history", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) DeleteLastInteraction(ctx context.Context, id chat.Identity) (bool, error) {
	var removed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec interactionRecord
		err := tx.Where("identity_norm = ?", id.NormalizedKey()).Order("seq DESC").First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		res := tx.Delete(&interactionRecord{}, rec.Seq)
		removed = res.RowsAffected > 0
		return res.Error
	})
	return removed, wrap("delete last interaction", err)
}

// DeleteAllUserData removes every record of the identity.
func (s *GormStore) DeleteAllUserData(ctx context.Context, id chat.Identity) (canon.DeletionCounts, error) {
	var counts canon.DeletionCounts
	norm := id.NormalizedKey()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("identity_norm = ?", norm).Delete(&interactionRecord{})
		if res.Error != nil {
			return res.Error
		}
		counts.Interactions = res.RowsAffected
		if res = tx.Where("identity_norm = ?", norm).Delete(&factRecord{}); res.Error != nil {
			return res.Error
		}
		counts.Facts = res.RowsAffected
		if res = tx.Where("identity_norm = ?", norm).Delete(&eventRecord{}); res.Error != nil {
			return res.Error
		}
		counts.Events = res.RowsAffected
		return nil
	})
	if err != nil {
		return canon.DeletionCounts{}, wrap("delete user data", err)
	}
	return counts, nil
}

// ResetNSFW locks intimacy again. It reports false, touching nothing, when
// the identity has no facts at all.
func (s *GormStore) ResetNSFW(ctx context.Context, id chat.Identity) (bool, error) {
	norm := id.NormalizedKey()
	var reset bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&factRecord{}).Where("identity_norm = ?", norm).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if err := s.setFact(tx, id, canon.FactVirgin, true, canon.NewMeta("nsfw_reset")); err != nil {
			return err
		}
		if err := tx.Where("identity_norm = ? AND fact_key IN ?", norm, canon.SceneLockKeys).
			Delete(&factRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("identity_norm = ? AND event_type = ?", norm, canon.EventFirstTime).
			Delete(&eventRecord{}).Error; err != nil {
			return err
		}
		reset = true
		return nil
	})
	if err != nil {
		return false, wrap("reset nsfw", err)
	}
	return reset, nil
}

// EnableNSFW unlocks intimacy and records the milestone once.
func (s *GormStore) EnableNSFW(ctx context.Context, id chat.Identity) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.setFact(tx, id, canon.FactVirgin, false, canon.NewMeta("nsfw_enable")); err != nil {
			return err
		}
		var n int64
		if err := tx.Model(&eventRecord{}).
			Where("identity_norm = ? AND event_type = ?", id.NormalizedKey(), canon.EventFirstTime).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		_, err := s.registerEvent(tx, id, canon.Event{
			Type:        canon.EventFirstTime,
			Description: "Intimidade liberada para esta sessão.",
			Tags:        []string{"nsfw"},
		})
		return err
	})
	return wrap("enable nsfw", err)
}
