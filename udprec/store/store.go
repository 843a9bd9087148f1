// Package store reads outbound records from, and journals inbound records to, a sqlite database.
//
// Outbound records live in a "records" table with (at least) an integer "id" and a text "data" column.
// Received records are appended to a "received" table along with their origin and arrival time.
package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/rflandau/udprec/udprec/protocol"
	"github.com/rflandau/udprec/udprec/receiver"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// RecordRow is the schema of the records table.
type RecordRow struct {
	ID   uint32 `gorm:"column:id;primaryKey;autoIncrement:false"`
	Data string `gorm:"column:data;not null"`
}

func (RecordRow) TableName() string { return "records" }

// ReceivedRow is the schema of the received table: one row per successfully decoded datagram.
type ReceivedRow struct {
	Seq        uint64    `gorm:"column:seq;primaryKey;autoIncrement"`
	RecordID   uint32    `gorm:"column:record_id;index"`
	Data       string    `gorm:"column:data;not null"`
	Source     string    `gorm:"column:source"`
	ReceivedAt time.Time `gorm:"column:received_at;index"`
}

func (ReceivedRow) TableName() string { return "received" }

// Store provides database access for records.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// Open opens (creating if necessary) the sqlite database at path.
// Tables are not created; call Migrate for that.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLogger()})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", path)
	}
	return NewStore(db, logger), nil
}

// NewStore wraps an existing gorm handle.
func NewStore(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "record_store").Logger(),
	}
}

func gormLogger() gormlogger.Interface {
	return gormlogger.Default.LogMode(gormlogger.Silent)
}

// Migrate creates or updates the records and received tables.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&RecordRow{}, &ReceivedRow{}); err != nil {
		return errors.Wrap(err, "failed to migrate database")
	}
	return nil
}

// Load returns every row of the records table, ordered by id.
// A missing table or a missing id/data column is an error; ids outside the uint32 range are an error.
func (s *Store) Load(ctx context.Context) ([]protocol.Record, error) {
	rows, err := s.db.WithContext(ctx).Raw("SELECT id, data FROM records ORDER BY id").Rows()
	if err != nil {
		return nil, errors.Wrap(err, "failed to query records")
	}
	defer rows.Close()

	var out []protocol.Record
	for rows.Next() {
		var (
			id   int64
			data string
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, errors.Wrap(err, "failed to scan record")
		}
		if id < 0 || id > math.MaxUint32 {
			return nil, fmt.Errorf("record id %d does not fit in 32 bits", id)
		}
		out = append(out, protocol.Record{ID: uint32(id), Text: data})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read records")
	}
	s.logger.Debug().Int("count", len(out)).Msg("loaded records")
	return out, nil
}

// Save upserts the given records into the records table.
func (s *Store) Save(ctx context.Context, recs ...protocol.Record) error {
	if len(recs) == 0 {
		return nil
	}
	rows := make([]RecordRow, len(recs))
	for i, r := range recs {
		rows[i] = RecordRow{ID: r.ID, Data: r.Text}
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error; err != nil {
		return errors.Wrap(err, "failed to save records")
	}
	return nil
}

// Append journals a single received record.
func (s *Store) Append(ctx context.Context, rec protocol.Record, source string, at time.Time) error {
	row := ReceivedRow{RecordID: rec.ID, Data: rec.Text, Source: source, ReceivedAt: at.UTC()}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return errors.Wrap(err, "failed to journal record")
	}
	return nil
}

// Received returns up to limit journaled records, oldest first.
// A limit <= 0 returns every row.
func (s *Store) Received(ctx context.Context, limit int) ([]ReceivedRow, error) {
	var rows []ReceivedRow
	q := s.db.WithContext(ctx).Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query received records")
	}
	return rows, nil
}

// Journal returns a receiver.Consumer that appends every successfully decoded record to the received table.
// Malformed datagrams are skipped. Write failures are logged and do not affect the receiver.
func (s *Store) Journal() receiver.Consumer {
	return func(d receiver.Delivery) {
		if d.Err != nil {
			return
		}
		if err := s.Append(context.Background(), d.Record, d.From.String(), time.Now()); err != nil {
			s.logger.Warn().Err(err).Func(d.Zerolog).Msg("failed to journal record")
		}
	}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
