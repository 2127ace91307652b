package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/feral-file/ff-gift-engine/internal/domain"
	"github.com/feral-file/ff-gift-engine/internal/store/schema"
)

// eventLogLockKey is the advisory lock that serialises appends so offsets commit in order
const eventLogLockKey int64 = 0x6769667473 // "gifts"

// OpenPostgres connects to Postgres and configures the pool
func OpenPostgres(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", domain.Unavailable(err))
	}
	if err := ConfigureConnectionPool(db, maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime); err != nil {
		return nil, err
	}
	return db, nil
}

// ConfigureConnectionPool configures the connection pool settings for a GORM database connection.
// Zero values fall back to the defaults of NormalizeConnectionPoolSettings.
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime =
		NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime)

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// NormalizeConnectionPoolSettings applies defaults and clamps pool settings into safe values.
//
// Defaults (when zero):
//   - MaxOpenConns: 20
//   - MaxIdleConns: 5
//   - ConnMaxLifetime: 5 minutes
//   - ConnMaxIdleTime: 10 minutes
func NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (int, int, time.Duration, time.Duration) {
	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}

	// Ensure MaxIdleConns doesn't exceed MaxOpenConns
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	return maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime
}

type pgEventLog struct {
	db *gorm.DB
}

// NewPGEventLog creates the Postgres-backed canonical event log
func NewPGEventLog(db *gorm.DB) EventLog {
	return &pgEventLog{db: db}
}

func (l *pgEventLog) Append(ctx context.Context, event *domain.CanonicalEvent) (bool, error) {
	if event.EventID == "" {
		return false, fmt.Errorf("append: event id is required")
	}

	row := schema.CanonicalEvent{
		EventID:        event.EventID,
		Type:           string(event.Type),
		GiftID:         uint64(event.GiftID),
		TokenID:        uint64(event.TokenID),
		CampaignID:     event.CampaignID,
		BlockNumber:    event.BlockNumber,
		BlockTimestamp: event.BlockTimestamp,
		TxHash:         event.TxHash,
		LogIndex:       event.LogIndex,
		Payload:        datatypes.JSON(event.Payload),
		ProcessedAt:    event.ProcessedAt,
		Source:         string(event.Source),
	}

	var appended bool
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", eventLogLockKey).Error; err != nil {
			return fmt.Errorf("failed to lock event log: %w", err)
		}

		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).Create(&row)
		if result.Error != nil {
			return fmt.Errorf("failed to insert event: %w", result.Error)
		}
		appended = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, classifyPG(err)
	}

	if appended {
		event.Offset = row.LogOffset
	}
	return appended, nil
}

func (l *pgEventLog) Read(ctx context.Context, query domain.EventQuery) ([]domain.CanonicalEvent, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultReadLimit
	}

	q := l.db.WithContext(ctx).Model(&schema.CanonicalEvent{}).Where("log_offset > ?", query.After)
	if query.Before > 0 {
		q = q.Where("log_offset < ?", query.Before)
	}
	if query.Order == domain.OrderDesc {
		q = q.Order("log_offset DESC")
	} else {
		q = q.Order("log_offset ASC")
	}

	var rows []schema.CanonicalEvent
	if err := q.Limit(limit).Find(&rows).Error; err != nil {
		return nil, classifyPG(fmt.Errorf("failed to read event log: %w", err))
	}

	events := make([]domain.CanonicalEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, domain.CanonicalEvent{
			Offset:         r.LogOffset,
			EventID:        r.EventID,
			Type:           domain.EventType(r.Type),
			GiftID:         domain.GiftID(r.GiftID),
			TokenID:        domain.TokenID(r.TokenID),
			CampaignID:     r.CampaignID,
			BlockNumber:    r.BlockNumber,
			BlockTimestamp: r.BlockTimestamp.UTC(),
			TxHash:         r.TxHash,
			LogIndex:       r.LogIndex,
			Payload:        []byte(r.Payload),
			ProcessedAt:    r.ProcessedAt.UTC(),
			Source:         domain.EventSource(r.Source),
		})
	}
	return events, nil
}

func (l *pgEventLog) Head(ctx context.Context) (uint64, error) {
	var head uint64
	err := l.db.WithContext(ctx).Model(&schema.CanonicalEvent{}).
		Select("COALESCE(MAX(log_offset), 0)").
		Scan(&head).Error
	if err != nil {
		return 0, classifyPG(fmt.Errorf("failed to read log head: %w", err))
	}
	return head, nil
}

type pgCheckpointStore struct {
	db *gorm.DB
}

// NewPGCheckpointStore creates a checkpoint store on the key_value_store table
func NewPGCheckpointStore(db *gorm.DB) CheckpointStore {
	return &pgCheckpointStore{db: db}
}

func checkpointKey(name string) string {
	return fmt.Sprintf("checkpoint:%s", name)
}

func (s *pgCheckpointStore) GetCheckpoint(ctx context.Context, name string) (uint64, bool, error) {
	var kv schema.KeyValueStore
	err := s.db.WithContext(ctx).Where("key = ?", checkpointKey(name)).First(&kv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, classifyPG(fmt.Errorf("failed to get checkpoint: %w", err))
	}

	v, err := strconv.ParseUint(kv.Value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("failed to parse checkpoint: %w", err)
	}
	return v, true, nil
}

func (s *pgCheckpointStore) AdvanceCheckpoint(ctx context.Context, name string, value uint64) (uint64, error) {
	kv := schema.KeyValueStore{
		Key:   checkpointKey(name),
		Value: strconv.FormatUint(value, 10),
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "key_value_store.value::numeric < EXCLUDED.value::numeric"},
		}},
	}).Create(&kv).Error
	if err != nil {
		return 0, classifyPG(fmt.Errorf("failed to advance checkpoint: %w", err))
	}

	current, _, err := s.GetCheckpoint(ctx, name)
	return current, err
}

// classifyPG marks driver failures as ServiceUnavailable
func classifyPG(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrServiceUnavailable) {
		return err
	}
	return domain.Unavailable(err)
}
