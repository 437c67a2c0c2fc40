package index

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"jobescrow/core/types"
)

// ErrNotIndexed is returned when a job has no row in the projection.
var ErrNotIndexed = errors.New("index: job not indexed")

// MaxListLimit caps ListByAccount page sizes.
const MaxListLimit = 500

// JobRow is the latest known snapshot of a job, keyed by job id. Accounts are
// stored in their bech32 form. Amounts and ledger times are decimal strings:
// SQLite integers are signed, so a full uint64 deadline would not fit.
type JobRow struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement:false"`
	Client          string `gorm:"index;not null"`
	Freelancer      string `gorm:"index"`
	Token           string `gorm:"not null"`
	Amount          string `gorm:"not null"`
	SoftDeadline    string
	HardDeadline    string
	PenaltyPerSec   string
	State           string `gorm:"index;not null"`
	Direct          bool
	LastEvent       string
	Payout          string
	Refund          string
	LedgerUpdatedAt string
	IndexedAt       time.Time
}

func (JobRow) TableName() string { return "jobs" }

// Index is a SQLite projection of committed job events.
type Index struct {
	db  *gorm.DB
	now func() time.Time
}

// Open opens (creating if needed) the SQLite file at path.
func Open(path string) (*Index, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("index: path required")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("index: open %s: %w", path, err)
	}
	return New(db)
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB) (*Index, error) {
	if db == nil {
		return nil, fmt.Errorf("index: database required")
	}
	if err := db.AutoMigrate(&JobRow{}); err != nil {
		return nil, fmt.Errorf("index: migrate: %w", err)
	}
	return &Index{db: db, now: time.Now}, nil
}

func (i *Index) Close() error {
	sqlDB, err := i.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Apply upserts the row described by a jobs.* event. Other events are ignored.
func (i *Index) Apply(ctx context.Context, evt *types.Event) error {
	if evt == nil || !strings.HasPrefix(evt.Type, "jobs.") {
		return nil
	}
	row, err := rowFromEvent(evt)
	if err != nil {
		return err
	}
	row.IndexedAt = i.now().UTC()
	return i.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func rowFromEvent(evt *types.Event) (JobRow, error) {
	attrs := evt.Attributes
	id, err := strconv.ParseUint(attrs["id"], 10, 64)
	if err != nil || id == 0 {
		return JobRow{}, fmt.Errorf("index: %s event without job id", evt.Type)
	}
	row := JobRow{
		ID:            id,
		Client:        attrs["client"],
		Freelancer:    attrs["freelancer"],
		Token:         attrs["token"],
		Amount:        attrs["amount"],
		PenaltyPerSec: attrs["penaltyPerSec"],
		State:         attrs["state"],
		Direct:        attrs["direct"] == "true",
		LastEvent:     evt.Type,
		Payout:        attrs["payout"],
		Refund:        attrs["refund"],
	}
	for field, target := range map[string]*string{
		"softDeadline": &row.SoftDeadline,
		"hardDeadline": &row.HardDeadline,
		"updatedAt":    &row.LedgerUpdatedAt,
	} {
		value, err := ledgerTime(attrs[field])
		if err != nil {
			return JobRow{}, fmt.Errorf("index: %s event job %d: %s: %w", evt.Type, id, field, err)
		}
		*target = value
	}
	return row, nil
}

// ledgerTime canonicalises a uint64 attribute. Missing values are stored as 0.
func ledgerTime(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "0", nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(v, 10), nil
}

// Uint reads back one of the decimal ledger-time columns.
func Uint(value string) uint64 {
	v, _ := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
	return v
}

// Get returns the indexed snapshot for id.
func (i *Index) Get(ctx context.Context, id uint64) (*JobRow, error) {
	var row JobRow
	err := i.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotIndexed
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListByAccount returns jobs where account is client or freelancer, newest
// first. An empty state matches every state.
func (i *Index) ListByAccount(ctx context.Context, account, state string, limit int) ([]JobRow, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return nil, fmt.Errorf("index: account required")
	}
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	query := i.db.WithContext(ctx).Where("client = ? OR freelancer = ?", account, account)
	if state = strings.TrimSpace(state); state != "" {
		query = query.Where("state = ?", state)
	}
	var rows []JobRow
	if err := query.Order("id desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
