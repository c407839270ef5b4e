package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KnowledgeRecord is the SQL row for an Entry.
type KnowledgeRecord struct {
	Key        string    `gorm:"column:entry_key;primaryKey;size:255"`
	MemoryType string    `gorm:"column:memory_type;size:64;index"`
	Content    string    `gorm:"column:content;type:text"`
	Value      string    `gorm:"column:value;type:text"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at;index"`
}

// TableName implements gorm's tabler.
func (KnowledgeRecord) TableName() string { return "hrm_knowledge" }

// GormStore persists entries through GORM (postgres, mysql or sqlite).
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore wraps db. When autoMigrate is set the table is created or updated.
func NewGormStore(db *gorm.DB, autoMigrate bool, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if autoMigrate {
		if err := db.AutoMigrate(&KnowledgeRecord{}); err != nil {
			return nil, fmt.Errorf("migrate hrm_knowledge: %w", err)
		}
	}
	return &GormStore{db: db, logger: logger.With(zap.String("component", "knowledge_gorm"))}, nil
}

func toRecord(e Entry) (KnowledgeRecord, error) {
	var value []byte
	if e.Value != nil {
		var err error
		if value, err = json.Marshal(e.Value); err != nil {
			return KnowledgeRecord{}, fmt.Errorf("encode value: %w", err)
		}
	}
	return KnowledgeRecord{
		Key:        e.Key,
		MemoryType: e.MemoryType,
		Content:    e.Content,
		Value:      string(value),
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}, nil
}

func (r KnowledgeRecord) entry() Entry {
	e := Entry{
		Key:        r.Key,
		MemoryType: r.MemoryType,
		Content:    r.Content,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.Value != "" {
		_ = json.Unmarshal([]byte(r.Value), &e.Value)
	}
	return e
}

func (s *GormStore) Remember(ctx context.Context, e Entry) error {
	rec, err := toRecord(stamp(e, time.Now()))
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"memory_type", "content", "value", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("remember %s: %w", e.Key, err)
	}
	return nil
}

// Recall pre-filters rows whose content mentions any query term, then ranks them.
func (s *GormStore) Recall(ctx context.Context, query string, limit int) ([]Match, error) {
	terms := Terms(query)
	if len(terms) == 0 {
		return []Match{}, nil
	}

	q := s.db.WithContext(ctx).Model(&KnowledgeRecord{})
	cond := s.db.Where("LOWER(content) LIKE ?", "%"+terms[0]+"%")
	for _, t := range terms[1:] {
		cond = cond.Or("LOWER(content) LIKE ?", "%"+t+"%")
	}

	var rows []KnowledgeRecord
	if err := q.Where(cond).Order("updated_at DESC").Limit(candidateLimit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("recall: %w", err)
	}
	entries := make([]Entry, len(rows))
	for i, r := range rows {
		entries[i] = r.entry()
	}
	return rank(query, entries, limit), nil
}

func (s *GormStore) Get(ctx context.Context, key string) (Entry, error) {
	var rec KnowledgeRecord
	err := s.db.WithContext(ctx).Where(&KnowledgeRecord{Key: key}).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get %s: %w", key, err)
	}
	return rec.entry(), nil
}

func (s *GormStore) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Delete(&KnowledgeRecord{Key: key}).Error; err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *GormStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&KnowledgeRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Close is a no-op; the *gorm.DB is owned by the caller.
func (s *GormStore) Close() error { return nil }
