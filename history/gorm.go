package history

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/hrmflow/types"
)

// ExecutionRecord is the SQL row for a Record.
type ExecutionRecord struct {
	ID          string    `gorm:"column:id;primaryKey;size:36"`
	RunID       string    `gorm:"column:run_id;size:36;index"`
	Query       string    `gorm:"column:query;type:text"`
	Tier        string    `gorm:"column:tier;size:16;index"`
	Pattern     string    `gorm:"column:pattern;size:512"`
	Success     bool      `gorm:"column:success"`
	Converged   bool      `gorm:"column:converged"`
	Confidence  float64   `gorm:"column:confidence"`
	Iterations  int       `gorm:"column:iterations"`
	ToolCalls   int       `gorm:"column:tool_calls"`
	TotalTimeMs int64     `gorm:"column:total_time_ms"`
	Error       string    `gorm:"column:error;type:text"`
	CreatedAt   time.Time `gorm:"column:created_at;index"`
}

// TableName implements gorm's tabler.
func (ExecutionRecord) TableName() string { return "hrm_executions" }

func toRow(r Record) ExecutionRecord {
	return ExecutionRecord{
		ID:          r.ID,
		RunID:       r.RunID,
		Query:       r.Query,
		Tier:        string(r.Tier),
		Pattern:     r.Pattern,
		Success:     r.Success,
		Converged:   r.Converged,
		Confidence:  r.Confidence,
		Iterations:  r.Iterations,
		ToolCalls:   r.ToolCalls,
		TotalTimeMs: r.TotalTime.Milliseconds(),
		Error:       r.Error,
		CreatedAt:   r.CreatedAt,
	}
}

func (e ExecutionRecord) record() Record {
	return Record{
		ID:         e.ID,
		RunID:      e.RunID,
		Query:      e.Query,
		Tier:       types.Tier(e.Tier),
		Pattern:    e.Pattern,
		Success:    e.Success,
		Converged:  e.Converged,
		Confidence: e.Confidence,
		Iterations: e.Iterations,
		ToolCalls:  e.ToolCalls,
		TotalTime:  time.Duration(e.TotalTimeMs) * time.Millisecond,
		Error:      e.Error,
		CreatedAt:  e.CreatedAt,
	}
}

// GormStore persists records in hrm_executions.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore wraps db, optionally auto-migrating the table.
func NewGormStore(db *gorm.DB, autoMigrate bool, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if autoMigrate {
		if err := db.AutoMigrate(&ExecutionRecord{}); err != nil {
			return nil, fmt.Errorf("migrate hrm_executions: %w", err)
		}
	}
	return &GormStore{db: db, logger: logger.With(zap.String("component", "history_gorm"))}, nil
}

func (s *GormStore) Record(ctx context.Context, r Record) error {
	row := toRow(prepare(r))
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("record execution %s: %w", row.ID, err)
	}
	return nil
}

func (s *GormStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []ExecutionRecord
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("recent executions: %w", err)
	}
	out := make([]Record, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}
	return out, nil
}

type tierCount struct {
	Tier  string
	Total int64
}

func (s *GormStore) Summary(ctx context.Context) (Summary, error) {
	out := newSummary()
	db := s.db.WithContext(ctx).Model(&ExecutionRecord{})

	var agg struct {
		Total      int64
		Successful int64
		AvgMs      float64
	}
	err := db.Select("COUNT(*) AS total, " +
		"COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS successful, " +
		"COALESCE(AVG(total_time_ms), 0) AS avg_ms").
		Scan(&agg).Error
	if err != nil {
		return out, fmt.Errorf("summarize executions: %w", err)
	}

	var tiers []tierCount
	if err := s.db.WithContext(ctx).Model(&ExecutionRecord{}).
		Select("tier, COUNT(*) AS total").Group("tier").Scan(&tiers).Error; err != nil {
		return out, fmt.Errorf("summarize tiers: %w", err)
	}

	out.Total = agg.Total
	out.Successful = agg.Successful
	if agg.Total > 0 {
		out.SuccessRate = float64(agg.Successful) / float64(agg.Total)
		out.AverageTime = time.Duration(agg.AvgMs * float64(time.Millisecond))
	}
	for _, tc := range tiers {
		out.ByTier[types.Tier(tc.Tier)] = tc.Total
	}
	return out, nil
}

// Close is a no-op; the *gorm.DB is owned by the caller.
func (s *GormStore) Close() error { return nil }
