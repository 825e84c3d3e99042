package credits

import "context"

// Amount is an integer amount in the smallest currency unit, carrying the
// currency code and decimal scale it is expressed in. Amounts are never
// interpreted without their code/scale.
type Amount struct {
	Value      int64
	AssetCode  string
	AssetScale int32
}

// QuestionStatus defines the question lifecycle.
type QuestionStatus string

const (
	QuestionStatusAwaitingPayment QuestionStatus = "awaiting_payment"
	QuestionStatusPaid            QuestionStatus = "paid"
	QuestionStatusAnswered        QuestionStatus = "answered"
	QuestionStatusSkipped         QuestionStatus = "skipped"
)

// String returns the status value.
func (status QuestionStatus) String() string {
	return string(status)
}

// ParseQuestionStatus validates a raw status value.
func ParseQuestionStatus(raw string) (QuestionStatus, error) {
	switch QuestionStatus(raw) {
	case QuestionStatusAwaitingPayment, QuestionStatusPaid, QuestionStatusAnswered, QuestionStatusSkipped:
		return QuestionStatus(raw), nil
	}
	return "", ErrInvalidQuestionStatus
}

// ChargesCredit reports whether a question in this status counts against the
// guest's earned credits. Everything that reached at least "paid" does;
// consumption is permanent even after the question is answered or skipped.
func (status QuestionStatus) ChargesCredit() bool {
	return status != QuestionStatusAwaitingPayment
}

// Session is the host-owned Q&A session guests pay into. Its currency is
// authoritative: every guest balance is expressed in it.
type Session struct {
	SessionID      string
	HostID         string
	Title          string
	QuestionPrice  int64
	AssetCode      string
	AssetScale     int32
	CreatedUnixUTC int64
}

// Question is one audience question inside a session.
type Question struct {
	QuestionID     string
	SessionID      string
	GuestID        string
	AuthorName     string
	Text           string
	Status         QuestionStatus
	CreatedUnixUTC int64
}

// PaymentRecord tracks everything a guest has paid into one session.
//
// The two totals are deliberately separate cells: VerifiedTotal only ever
// ratchets upward from authoritative poll results, StreamedTotal accumulates
// push-style stream increments. Their sum is the guest's total received.
// Both are kept in the owning session's currency; records written under an
// older session currency are converted on the next read or write.
type PaymentRecord struct {
	GuestID             string
	SessionID           string
	IncomingPaymentURLs []string
	VerifiedTotal       int64
	StreamedTotal       int64
	AssetCode           string
	AssetScale          int32
	LastUpdated         int64
}

// TotalReceived combines both payment signals.
func (record PaymentRecord) TotalReceived() int64 {
	return record.VerifiedTotal + record.StreamedTotal
}

// HasIncomingPaymentURL reports whether the URL was already registered.
func (record PaymentRecord) HasIncomingPaymentURL(url string) bool {
	for _, known := range record.IncomingPaymentURLs {
		if known == url {
			return true
		}
	}
	return false
}

// GuestBalance is the derived spendable view over a payment record. It is
// computed fresh on every read, never stored.
type GuestBalance struct {
	TotalReceived   int64
	Balance         int64
	QuestionCredits int64
	CreditsUsed     int64
	AssetCode       string
	AssetScale      int32
}

// PollResult reports the outcome of reconciling polled payment evidence.
type PollResult struct {
	TotalReceived int64
	PreviousTotal int64
	Updated       bool
	AssetCode     string
	AssetScale    int32
}

// PaymentVerifier reads the authoritative received amount for an
// incoming-payment resource. Implementations must treat missing data as a
// zero-value amount, not a failure.
type PaymentVerifier interface {
	ReceivedAmount(ctx context.Context, paymentURL string) (amount Amount, completed bool, err error)
}

// Store is the persistence contract used by Service.
// (gormstore and memstore implement this.)
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CreateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, sessionID string) (Session, bool, error)
	GetPaymentRecord(ctx context.Context, guestID string, sessionID string) (PaymentRecord, bool, error)
	GetPaymentRecordForUpdate(ctx context.Context, guestID string, sessionID string) (PaymentRecord, bool, error)
	SavePaymentRecord(ctx context.Context, record PaymentRecord) error
	InsertQuestion(ctx context.Context, question Question) error
	UpdateQuestionStatus(ctx context.Context, sessionID string, questionID string, from, to QuestionStatus) error
	ListQuestions(ctx context.Context, sessionID string) ([]Question, error)
	CountChargedQuestions(ctx context.Context, sessionID string, guestID string) (int64, error)
}
