package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/askstream/askstream/pkg/credits"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintSessionPrimary = "sessions_pkey"
	pgUniqueViolationCode    = "23505"
	sqliteConstraintCode     = 19
	emptyJSONArray           = "[]"

	errorOperationStore  = "store"
	errorSubjectSession  = "session"
	errorSubjectRecord   = "payment_record"
	errorSubjectQuestion = "question"
	errorCodeCreate      = "create"
	errorCodeDuplicate   = "duplicate"
	errorCodeGet         = "get"
	errorCodeInsert      = "insert"
	errorCodeInvalid     = "invalid"
	errorCodeList        = "list"
	errorCodeCount       = "count"
	errorCodeSave        = "save"
	errorCodeUpdate      = "update_status"
)

// Store implements credits.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema for drivers without managed migrations.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Session{}, &GuestPaymentRecord{}, &Question{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore credits.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateSession(ctx context.Context, session credits.Session) error {
	model := Session{
		SessionID:     session.SessionID,
		HostID:        session.HostID,
		Title:         session.Title,
		QuestionPrice: session.QuestionPrice,
		AssetCode:     session.AssetCode,
		AssetScale:    session.AssetScale,
		CreatedAt:     time.Unix(session.CreatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintSessionPrimary) {
		return wrapStoreError(errorSubjectSession, errorCodeDuplicate, credits.ErrSessionExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectSession, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetSession(ctx context.Context, sessionID string) (credits.Session, bool, error) {
	var model Session
	err := store.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return credits.Session{}, false, nil
	}
	if err != nil {
		return credits.Session{}, false, wrapStoreError(errorSubjectSession, errorCodeGet, err)
	}
	return credits.Session{
		SessionID:      model.SessionID,
		HostID:         model.HostID,
		Title:          model.Title,
		QuestionPrice:  model.QuestionPrice,
		AssetCode:      model.AssetCode,
		AssetScale:     model.AssetScale,
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}, true, nil
}

func (store *Store) GetPaymentRecord(ctx context.Context, guestID string, sessionID string) (credits.PaymentRecord, bool, error) {
	return store.getPaymentRecord(ctx, guestID, sessionID, false)
}

// GetPaymentRecordForUpdate takes a row lock inside the surrounding
// transaction so concurrent reconcilers and the credit gate serialize on the
// (guest, session) record.
func (store *Store) GetPaymentRecordForUpdate(ctx context.Context, guestID string, sessionID string) (credits.PaymentRecord, bool, error) {
	return store.getPaymentRecord(ctx, guestID, sessionID, true)
}

func (store *Store) getPaymentRecord(ctx context.Context, guestID string, sessionID string, locked bool) (credits.PaymentRecord, bool, error) {
	query := store.db.WithContext(ctx)
	if locked {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model GuestPaymentRecord
	err := query.
		Where("guest_id = ? AND session_id = ?", guestID, sessionID).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return credits.PaymentRecord{}, false, nil
	}
	if err != nil {
		return credits.PaymentRecord{}, false, wrapStoreError(errorSubjectRecord, errorCodeGet, err)
	}
	record, err := mapPaymentRecord(model)
	if err != nil {
		return credits.PaymentRecord{}, false, wrapStoreError(errorSubjectRecord, errorCodeInvalid, err)
	}
	return record, true, nil
}

func (store *Store) SavePaymentRecord(ctx context.Context, record credits.PaymentRecord) error {
	urls, err := json.Marshal(record.IncomingPaymentURLs)
	if err != nil {
		return wrapStoreError(errorSubjectRecord, errorCodeInvalid, err)
	}
	model := GuestPaymentRecord{
		GuestID:       record.GuestID,
		SessionID:     record.SessionID,
		PaymentURLs:   jsonOrEmptyArray(urls),
		VerifiedTotal: record.VerifiedTotal,
		StreamedTotal: record.StreamedTotal,
		AssetCode:     record.AssetCode,
		AssetScale:    record.AssetScale,
		UpdatedAt:     time.Unix(record.LastUpdated, 0).UTC(),
	}
	if model.UpdatedAt.IsZero() {
		model.UpdatedAt = time.Now().UTC()
	}
	err = store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "guest_id"}, {Name: "session_id"}},
			UpdateAll: true,
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectRecord, errorCodeSave, err)
	}
	return nil
}

func (store *Store) InsertQuestion(ctx context.Context, question credits.Question) error {
	model := Question{
		QuestionID: question.QuestionID,
		SessionID:  question.SessionID,
		GuestID:    question.GuestID,
		AuthorName: question.AuthorName,
		Text:       question.Text,
		Status:     question.Status.String(),
		CreatedAt:  time.Unix(question.CreatedUnixUTC, 0).UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectQuestion, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) UpdateQuestionStatus(ctx context.Context, sessionID string, questionID string, from, to credits.QuestionStatus) error {
	result := store.db.WithContext(ctx).
		Model(&Question{}).
		Where("session_id = ? AND question_id = ? AND status = ?", sessionID, questionID, from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectQuestion, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		err := store.db.WithContext(ctx).
			Model(&Question{}).
			Where("session_id = ? AND question_id = ?", sessionID, questionID).
			Count(&count).Error
		if err != nil {
			return wrapStoreError(errorSubjectQuestion, errorCodeUpdate, err)
		}
		if count == 0 {
			return wrapStoreError(errorSubjectQuestion, errorCodeUpdate, credits.ErrUnknownQuestion)
		}
		return wrapStoreError(errorSubjectQuestion, errorCodeUpdate, credits.ErrQuestionClosed)
	}
	return nil
}

func (store *Store) ListQuestions(ctx context.Context, sessionID string) ([]credits.Question, error) {
	var rows []Question
	err := store.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectQuestion, errorCodeList, err)
	}
	questions := make([]credits.Question, 0, len(rows))
	for _, row := range rows {
		question, err := mapQuestion(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectQuestion, errorCodeInvalid, err)
		}
		questions = append(questions, question)
	}
	return questions, nil
}

func (store *Store) CountChargedQuestions(ctx context.Context, sessionID string, guestID string) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Question{}).
		Where("session_id = ? AND guest_id = ?", sessionID, guestID).
		Where("status <> ?", credits.QuestionStatusAwaitingPayment.String()).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectQuestion, errorCodeCount, err)
	}
	return count, nil
}

func mapPaymentRecord(model GuestPaymentRecord) (credits.PaymentRecord, error) {
	var urls []string
	if len(model.PaymentURLs) > 0 {
		if err := json.Unmarshal(model.PaymentURLs, &urls); err != nil {
			return credits.PaymentRecord{}, err
		}
	}
	return credits.PaymentRecord{
		GuestID:             model.GuestID,
		SessionID:           model.SessionID,
		IncomingPaymentURLs: urls,
		VerifiedTotal:       model.VerifiedTotal,
		StreamedTotal:       model.StreamedTotal,
		AssetCode:           model.AssetCode,
		AssetScale:          model.AssetScale,
		LastUpdated:         model.UpdatedAt.Unix(),
	}, nil
}

func mapQuestion(model Question) (credits.Question, error) {
	status, err := credits.ParseQuestionStatus(model.Status)
	if err != nil {
		return credits.Question{}, err
	}
	return credits.Question{
		QuestionID:     model.QuestionID,
		SessionID:      model.SessionID,
		GuestID:        model.GuestID,
		AuthorName:     model.AuthorName,
		Text:           model.Text,
		Status:         status,
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}, nil
}

func jsonOrEmptyArray(raw []byte) datatypes.JSON {
	if len(raw) == 0 || string(raw) == "null" {
		return datatypes.JSON([]byte(emptyJSONArray))
	}
	return datatypes.JSON(raw)
}

func wrapStoreError(subject string, code string, err error) error {
	return credits.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
