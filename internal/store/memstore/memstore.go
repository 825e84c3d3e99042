// Package memstore provides an in-memory credits.Store. It backs tests and
// the daemon's no-database fallback; it is always injected, never a process
// global.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/askstream/askstream/pkg/credits"
)

type recordKey struct {
	guestID   string
	sessionID string
}

// Store keeps everything in maps guarded by one mutex. WithTx serializes the
// whole store for the duration of the closure, which gives the credit gate
// the same atomicity a database transaction with row locks would.
type Store struct {
	mu        sync.Mutex
	sessions  map[string]credits.Session
	records   map[recordKey]credits.PaymentRecord
	questions map[string][]credits.Question
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		sessions:  make(map[string]credits.Session),
		records:   make(map[recordKey]credits.PaymentRecord),
		questions: make(map[string][]credits.Question),
	}
}

// WithTx runs fn with the store lock held. Nested transactions are not
// supported; the service never nests them.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore credits.Store) error) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return fn(ctx, &lockedStore{store: store})
}

func (store *Store) CreateSession(ctx context.Context, session credits.Session) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.createSessionLocked(session)
}

func (store *Store) GetSession(ctx context.Context, sessionID string) (credits.Session, bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.getSessionLocked(sessionID)
}

func (store *Store) GetPaymentRecord(ctx context.Context, guestID string, sessionID string) (credits.PaymentRecord, bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.getPaymentRecordLocked(guestID, sessionID)
}

func (store *Store) GetPaymentRecordForUpdate(ctx context.Context, guestID string, sessionID string) (credits.PaymentRecord, bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.getPaymentRecordLocked(guestID, sessionID)
}

func (store *Store) SavePaymentRecord(ctx context.Context, record credits.PaymentRecord) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.savePaymentRecordLocked(record)
}

func (store *Store) InsertQuestion(ctx context.Context, question credits.Question) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.insertQuestionLocked(question)
}

func (store *Store) UpdateQuestionStatus(ctx context.Context, sessionID string, questionID string, from, to credits.QuestionStatus) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.updateQuestionStatusLocked(sessionID, questionID, from, to)
}

func (store *Store) ListQuestions(ctx context.Context, sessionID string) ([]credits.Question, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.listQuestionsLocked(sessionID)
}

func (store *Store) CountChargedQuestions(ctx context.Context, sessionID string, guestID string) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.countChargedQuestionsLocked(sessionID, guestID)
}

func (store *Store) createSessionLocked(session credits.Session) error {
	if _, exists := store.sessions[session.SessionID]; exists {
		return credits.ErrSessionExists
	}
	store.sessions[session.SessionID] = session
	return nil
}

func (store *Store) getSessionLocked(sessionID string) (credits.Session, bool, error) {
	session, found := store.sessions[sessionID]
	return session, found, nil
}

func (store *Store) getPaymentRecordLocked(guestID string, sessionID string) (credits.PaymentRecord, bool, error) {
	record, found := store.records[recordKey{guestID: guestID, sessionID: sessionID}]
	if found {
		record.IncomingPaymentURLs = append([]string(nil), record.IncomingPaymentURLs...)
	}
	return record, found, nil
}

func (store *Store) savePaymentRecordLocked(record credits.PaymentRecord) error {
	record.IncomingPaymentURLs = append([]string(nil), record.IncomingPaymentURLs...)
	store.records[recordKey{guestID: record.GuestID, sessionID: record.SessionID}] = record
	return nil
}

func (store *Store) insertQuestionLocked(question credits.Question) error {
	store.questions[question.SessionID] = append(store.questions[question.SessionID], question)
	return nil
}

func (store *Store) updateQuestionStatusLocked(sessionID string, questionID string, from, to credits.QuestionStatus) error {
	questions := store.questions[sessionID]
	for index, question := range questions {
		if question.QuestionID != questionID {
			continue
		}
		if question.Status != from {
			return credits.ErrQuestionClosed
		}
		questions[index].Status = to
		return nil
	}
	return credits.ErrUnknownQuestion
}

func (store *Store) listQuestionsLocked(sessionID string) ([]credits.Question, error) {
	questions := append([]credits.Question(nil), store.questions[sessionID]...)
	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].CreatedUnixUTC > questions[j].CreatedUnixUTC
	})
	return questions, nil
}

func (store *Store) countChargedQuestionsLocked(sessionID string, guestID string) (int64, error) {
	var count int64
	for _, question := range store.questions[sessionID] {
		if question.GuestID == guestID && question.Status.ChargesCredit() {
			count++
		}
	}
	return count, nil
}

// lockedStore is the transaction view handed to WithTx closures; the parent
// already holds the mutex.
type lockedStore struct {
	store *Store
}

func (tx *lockedStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore credits.Store) error) error {
	return fn(ctx, tx)
}

func (tx *lockedStore) CreateSession(ctx context.Context, session credits.Session) error {
	return tx.store.createSessionLocked(session)
}

func (tx *lockedStore) GetSession(ctx context.Context, sessionID string) (credits.Session, bool, error) {
	return tx.store.getSessionLocked(sessionID)
}

func (tx *lockedStore) GetPaymentRecord(ctx context.Context, guestID string, sessionID string) (credits.PaymentRecord, bool, error) {
	return tx.store.getPaymentRecordLocked(guestID, sessionID)
}

func (tx *lockedStore) GetPaymentRecordForUpdate(ctx context.Context, guestID string, sessionID string) (credits.PaymentRecord, bool, error) {
	return tx.store.getPaymentRecordLocked(guestID, sessionID)
}

func (tx *lockedStore) SavePaymentRecord(ctx context.Context, record credits.PaymentRecord) error {
	return tx.store.savePaymentRecordLocked(record)
}

func (tx *lockedStore) InsertQuestion(ctx context.Context, question credits.Question) error {
	return tx.store.insertQuestionLocked(question)
}

func (tx *lockedStore) UpdateQuestionStatus(ctx context.Context, sessionID string, questionID string, from, to credits.QuestionStatus) error {
	return tx.store.updateQuestionStatusLocked(sessionID, questionID, from, to)
}

func (tx *lockedStore) ListQuestions(ctx context.Context, sessionID string) ([]credits.Question, error) {
	return tx.store.listQuestionsLocked(sessionID)
}

func (tx *lockedStore) CountChargedQuestions(ctx context.Context, sessionID string, guestID string) (int64, error) {
	return tx.store.countChargedQuestionsLocked(sessionID, guestID)
}
