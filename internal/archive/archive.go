// Package archive keeps a record of finished games in postgres. It only ever
// sees games that reached the result screen; live sessions are never stored.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/DoyleJ11/liar-game/internal/engine"
)

var ErrNotFinished = errors.New("game not finished")
var ErrDuplicate = errors.New("game already archived")

const (
	DefaultRecentLimit = 10
	MaxRecentLimit     = 100
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

type GameRecord struct {
	ID              uint              `gorm:"primaryKey" json:"id"`
	SessionID       string            `gorm:"uniqueIndex;size:64;not null" json:"session_id"`
	Category        string            `json:"category"`
	Keyword         string            `json:"keyword"`
	Liar            string            `gorm:"size:16" json:"liar"`
	UserRole        string            `gorm:"size:16" json:"user_role"`
	TurnOrder       []string          `gorm:"serializer:json" json:"turn_order"`
	Rounds          int               `json:"rounds"`
	Utterances      int               `json:"utterances"`
	UserVote        string            `gorm:"size:16" json:"user_vote"`
	LiarCaught      bool              `json:"liar_caught"`
	VoteCounts      map[string]int    `gorm:"serializer:json" json:"vote_counts"`
	AIVotes         map[string]string `gorm:"serializer:json" json:"ai_votes"`
	ReversalGuess   string            `json:"reversal_guess,omitempty"`
	ReversalCorrect *bool             `json:"reversal_correct,omitempty"`
	Result          string            `json:"result"`
	FinishedAt      time.Time         `gorm:"index" json:"finished_at"`
	CreatedAt       time.Time         `json:"-"`
}

// NewRecord flattens a finished game into a row.
func NewRecord(s engine.State, finishedAt time.Time) (GameRecord, error) {
	if s.Phase != engine.PhaseResult || s.Final == nil {
		return GameRecord{}, fmt.Errorf("%w: session %s is in phase %s", ErrNotFinished, s.SessionID, s.Phase)
	}

	final := s.Final
	rec := GameRecord{
		SessionID:  s.SessionID,
		Category:   s.Category,
		Keyword:    s.Keyword,
		Liar:       final.ActualLiar,
		UserRole:   string(s.UserRole),
		TurnOrder:  s.TurnOrder,
		Rounds:     engine.RoundNumber(len(s.History), len(s.TurnOrder)),
		Utterances: len(s.History),
		UserVote:   final.UserVote,
		LiarCaught: final.LiarCaught,
		VoteCounts: final.VoteCounts,
		AIVotes:    final.AIVotes,
		Result:     final.Result,
		FinishedAt: finishedAt.UTC(),
	}
	if rec.Liar == "" {
		rec.Liar = s.Liar
	}
	if g := final.LiarGuessResult; g != nil {
		correct := g.Correct
		rec.ReversalGuess = g.Guess
		rec.ReversalCorrect = &correct
	}
	return rec, nil
}

type Archive struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open connects to postgres and migrates the schema.
func Open(dsn string, logger *zap.Logger) (*Archive, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := db.AutoMigrate(&GameRecord{}); err != nil {
		sqlDB, dbErr := db.DB()
		if dbErr == nil {
			err = multierr.Append(err, sqlDB.Close())
		}
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return New(db, logger), nil
}

func New(db *gorm.DB, logger *zap.Logger) *Archive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{db: db, logger: logger.With(zap.String("component", "archive")), now: time.Now}
}

func (a *Archive) RecordGame(ctx context.Context, s engine.State) error {
	rec, err := NewRecord(s, a.now())
	if err != nil {
		return err
	}
	if err := a.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, s.SessionID)
		}
		return fmt.Errorf("record game %s: %w", s.SessionID, err)
	}
	a.logger.Info("game archived", zap.String("session_id", rec.SessionID), zap.String("result", rec.Result))
	return nil
}

// Recent lists finished games, newest first.
func (a *Archive) Recent(ctx context.Context, limit int) ([]GameRecord, error) {
	limit = ClampLimit(limit)
	var out []GameRecord
	err := a.db.WithContext(ctx).Order("finished_at desc").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("recent games: %w", err)
	}
	return out, nil
}

func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultRecentLimit
	case limit > MaxRecentLimit:
		return MaxRecentLimit
	}
	return limit
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
