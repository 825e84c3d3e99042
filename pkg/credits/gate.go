package credits

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GuestBalance computes the derived spendable view for a guest. A missing
// session or missing payment record is a well-defined zero state, not an
// error, so a first-time guest sees an empty balance instead of a fault.
func (service *Service) GuestBalance(ctx context.Context, guestID string, sessionID string) (GuestBalance, error) {
	guestID, sessionID, err := normalizeKeys(guestID, sessionID)
	if err != nil {
		return GuestBalance{}, err
	}
	session, found, err := service.store.GetSession(ctx, sessionID)
	if err != nil {
		return GuestBalance{}, err
	}
	if !found {
		return GuestBalance{}, nil
	}
	record, found, err := service.store.GetPaymentRecord(ctx, guestID, sessionID)
	if err != nil {
		return GuestBalance{}, err
	}
	if !found {
		return GuestBalance{AssetCode: session.AssetCode, AssetScale: session.AssetScale}, nil
	}
	// Read-side normalization only; the record self-heals on its next write.
	service.normalizeRecord(ctx, &record, session)
	used, err := service.store.CountChargedQuestions(ctx, sessionID, guestID)
	if err != nil {
		return GuestBalance{}, err
	}
	return computeBalance(record.TotalReceived(), used, session), nil
}

// SubmitQuestion admits a question only if the guest has at least one unspent
// credit. The availability check and the question insert run inside one
// transaction with the guest's payment record locked, so two concurrent
// submissions cannot both spend the same credit.
func (service *Service) SubmitQuestion(ctx context.Context, guestID string, sessionID string, authorName string, text string) (Question, error) {
	guestID, sessionID, err := normalizeKeys(guestID, sessionID)
	if err != nil {
		return Question{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Question{}, fmt.Errorf("%w: empty text", ErrInvalidQuestionText)
	}

	var question Question
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		session, found, err := txStore.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !found {
			return ErrUnknownSession
		}
		record, _, err := txStore.GetPaymentRecordForUpdate(ctx, guestID, sessionID)
		if err != nil {
			return err
		}
		service.normalizeRecord(ctx, &record, session)
		used, err := txStore.CountChargedQuestions(ctx, sessionID, guestID)
		if err != nil {
			return err
		}
		balance := computeBalance(record.TotalReceived(), used, session)
		if balance.QuestionCredits < 1 {
			return ErrInsufficientCredits
		}
		question = Question{
			QuestionID:     uuid.NewString(),
			SessionID:      sessionID,
			GuestID:        guestID,
			AuthorName:     strings.TrimSpace(authorName),
			Text:           text,
			Status:         QuestionStatusPaid,
			CreatedUnixUTC: service.nowFn(),
		}
		return txStore.InsertQuestion(ctx, question)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationSubmitQuestion,
		GuestID:   guestID,
		SessionID: sessionID,
		Error:     operationError,
	})
	if operationError != nil {
		return Question{}, operationError
	}
	return question, nil
}

// CreateSession persists a new Q&A session owned by a host.
func (service *Service) CreateSession(ctx context.Context, session Session) (Session, error) {
	session.HostID = strings.TrimSpace(session.HostID)
	if session.HostID == "" {
		return Session{}, fmt.Errorf("%w: empty value", ErrInvalidHostID)
	}
	if session.QuestionPrice < 0 {
		return Session{}, fmt.Errorf("%w: negative price", ErrInvalidQuestionPrice)
	}
	session.AssetCode = strings.ToUpper(strings.TrimSpace(session.AssetCode))
	if session.AssetCode == "" {
		return Session{}, fmt.Errorf("%w: empty value", ErrInvalidAssetCode)
	}
	if err := ValidateAssetScale(session.AssetScale); err != nil {
		return Session{}, err
	}
	if strings.TrimSpace(session.SessionID) == "" {
		session.SessionID = uuid.NewString()
	}
	session.CreatedUnixUTC = service.nowFn()
	operationError := service.store.CreateSession(ctx, session)
	service.logOperation(ctx, OperationLog{
		Operation:  operationCreateSession,
		SessionID:  session.SessionID,
		Amount:     session.QuestionPrice,
		AssetCode:  session.AssetCode,
		AssetScale: session.AssetScale,
		Error:      operationError,
	})
	if operationError != nil {
		return Session{}, operationError
	}
	return session, nil
}

// Session returns the stored session.
func (service *Service) Session(ctx context.Context, sessionID string) (Session, bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Session{}, false, fmt.Errorf("%w: empty value", ErrInvalidSessionID)
	}
	return service.store.GetSession(ctx, sessionID)
}

// SessionQuestions lists all questions in a session, newest first.
func (service *Service) SessionQuestions(ctx context.Context, sessionID string) ([]Question, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidSessionID)
	}
	_, found, err := service.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrUnknownSession
	}
	return service.store.ListQuestions(ctx, sessionID)
}

// MarkQuestion moves a paid question to answered or skipped. The consumed
// credit stays consumed either way.
func (service *Service) MarkQuestion(ctx context.Context, sessionID string, questionID string, to QuestionStatus) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidSessionID)
	}
	questionID = strings.TrimSpace(questionID)
	if questionID == "" {
		return fmt.Errorf("%w: empty id", ErrUnknownQuestion)
	}
	if to != QuestionStatusAnswered && to != QuestionStatusSkipped {
		return fmt.Errorf("%w: %q", ErrInvalidQuestionStatus, to)
	}
	operationError := service.store.UpdateQuestionStatus(ctx, sessionID, questionID, QuestionStatusPaid, to)
	service.logOperation(ctx, OperationLog{
		Operation: operationMarkQuestion,
		SessionID: sessionID,
		Status:    to.String(),
		Error:     operationError,
	})
	return operationError
}

func computeBalance(total int64, used int64, session Session) GuestBalance {
	var earned int64
	if session.QuestionPrice > 0 {
		earned = total / session.QuestionPrice
	}
	available := earned - used
	if available < 0 {
		available = 0
	}
	balance := total - used*session.QuestionPrice
	if balance < 0 {
		balance = 0
	}
	return GuestBalance{
		TotalReceived:   total,
		Balance:         balance,
		QuestionCredits: available,
		CreditsUsed:     used,
		AssetCode:       session.AssetCode,
		AssetScale:      session.AssetScale,
	}
}
