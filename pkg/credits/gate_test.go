package credits

import (
	"context"
	"errors"
	"testing"
)

func TestGuestBalanceFromVerifiedTotal(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	store.addSession(testSession("sess-1", 50))
	store.putRecord(PaymentRecord{
		GuestID:       "guest-1",
		SessionID:     "sess-1",
		VerifiedTotal: 100,
		AssetCode:     "USD",
		AssetScale:    2,
	})
	service := mustNewService(t, store, newStubVerifier())

	balance, err := service.GuestBalance(context.Background(), "guest-1", "sess-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.TotalReceived != 100 || balance.QuestionCredits != 2 || balance.CreditsUsed != 0 {
		t.Fatalf("expected total 100, credits 2, used 0, got %+v", balance)
	}
	if balance.Balance != 100 {
		t.Fatalf("expected spendable 100, got %d", balance.Balance)
	}
}

func TestGuestBalanceZeroStateForUnknownGuest(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	store.addSession(testSession("sess-1", 50))
	service := mustNewService(t, store, newStubVerifier())

	balance, err := service.GuestBalance(context.Background(), "guest-nobody", "sess-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.TotalReceived != 0 || balance.QuestionCredits != 0 {
		t.Fatalf("expected zero state, got %+v", balance)
	}
	if balance.AssetCode != "USD" || balance.AssetScale != 2 {
		t.Fatalf("expected session currency, got %s/%d", balance.AssetCode, balance.AssetScale)
	}
}

func TestGuestBalanceZeroStateForUnknownSession(t *testing.T) {
	t.Parallel()
	service := mustNewService(t, newStubStore(), newStubVerifier())

	balance, err := service.GuestBalance(context.Background(), "guest-1", "missing")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != (GuestBalance{}) {
		t.Fatalf("expected empty balance, got %+v", balance)
	}
}

func TestGuestBalanceZeroPriceEarnsNoCredits(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	store.addSession(testSession("sess-free", 0))
	store.putRecord(PaymentRecord{
		GuestID:       "guest-1",
		SessionID:     "sess-free",
		VerifiedTotal: 500,
		AssetCode:     "USD",
		AssetScale:    2,
	})
	service := mustNewService(t, store, newStubVerifier())

	balance, err := service.GuestBalance(context.Background(), "guest-1", "sess-free")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.QuestionCredits != 0 {
		t.Fatalf("expected 0 credits when price is 0, got %d", balance.QuestionCredits)
	}
	if balance.TotalReceived != 500 {
		t.Fatalf("expected total 500, got %d", balance.TotalReceived)
	}
}

func TestSubmitQuestionConsumesOneCredit(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	store.addSession(testSession("sess-1", 50))
	store.putRecord(PaymentRecord{
		GuestID:       "guest-1",
		SessionID:     "sess-1",
		VerifiedTotal: 100,
		AssetCode:     "USD",
		AssetScale:    2,
	})
	service := mustNewService(t, store, newStubVerifier())

	question, err := service.SubmitQuestion(context.Background(), "guest-1", "sess-1", "Alex", "Why fractions?")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if question.Status != QuestionStatusPaid {
		t.Fatalf("expected paid question, got %s", question.Status)
	}
	if question.QuestionID == "" {
		t.Fatalf("expected a generated question id")
	}

	balance, err := service.GuestBalance(context.Background(), "guest-1", "sess-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.CreditsUsed != 1 || balance.QuestionCredits != 1 {
		t.Fatalf("expected used 1 / available 1, got %+v", balance)
	}
	if balance.Balance != 50 {
		t.Fatalf("expected spendable 50 after one question, got %d", balance.Balance)
	}
}

func TestSubmitQuestionInsufficientCredits(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	store.addSession(testSession("sess-1", 50))
	store.putRecord(PaymentRecord{
		GuestID:       "guest-1",
		SessionID:     "sess-1",
		VerifiedTotal: 49,
		AssetCode:     "USD",
		AssetScale:    2,
	})
	service := mustNewService(t, store, newStubVerifier())

	_, err := service.SubmitQuestion(context.Background(), "guest-1", "sess-1", "Alex", "free question?")
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if len(store.questions) != 0 {
		t.Fatalf("expected no question persisted on rejection, got %d", len(store.questions))
	}
}

func TestSubmitQuestionCreditStaysConsumedAfterAnswer(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	store.addSession(testSession("sess-1", 50))
	store.putRecord(PaymentRecord{
		GuestID:       "guest-1",
		SessionID:     "sess-1",
		VerifiedTotal: 100,
		AssetCode:     "USD",
		AssetScale:    2,
	})
	service := mustNewService(t, store, newStubVerifier())

	question, err := service.SubmitQuestion(context.Background(), "guest-1", "sess-1", "Alex", "first?")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := service.MarkQuestion(context.Background(), "sess-1", question.QuestionID, QuestionStatusAnswered); err != nil {
		t.Fatalf("mark answered: %v", err)
	}

	balance, err := service.GuestBalance(context.Background(), "guest-1", "sess-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.CreditsUsed != 1 {
		t.Fatalf("expected credit to stay consumed after answering, got %+v", balance)
	}
}

func TestSubmitQuestionAfterStreamIncrement(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	store.addSession(testSession("sess-1", 50))
	service := mustNewService(t, store, newStubVerifier())

	if _, err := service.IncrementBalance(context.Background(), "guest-1", "sess-1", Amount{Value: 50, AssetCode: "USD", AssetScale: 2}); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if _, err := service.SubmitQuestion(context.Background(), "guest-1", "sess-1", "Alex", "stream-funded?"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// The single credit is spent; the next question must be rejected.
	_, err := service.SubmitQuestion(context.Background(), "guest-1", "sess-1", "Alex", "second?")
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
}

func TestSubmitQuestionValidation(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	store.addSession(testSession("sess-1", 50))
	service := mustNewService(t, store, newStubVerifier())

	if _, err := service.SubmitQuestion(context.Background(), "guest-1", "sess-1", "Alex", "   "); !errors.Is(err, ErrInvalidQuestionText) {
		t.Fatalf("expected ErrInvalidQuestionText, got %v", err)
	}
	if _, err := service.SubmitQuestion(context.Background(), "guest-1", "missing", "Alex", "hello?"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
}

func TestCreateSessionGeneratesIDAndNormalizesCurrency(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	service := mustNewService(t, store, newStubVerifier())

	session, err := service.CreateSession(context.Background(), Session{
		HostID:        "host-1",
		Title:         "office hours",
		QuestionPrice: 50,
		AssetCode:     " usd ",
		AssetScale:    2,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.SessionID == "" {
		t.Fatalf("expected a generated session id")
	}
	if session.AssetCode != "USD" {
		t.Fatalf("expected upper-cased asset code, got %q", session.AssetCode)
	}
	if session.CreatedUnixUTC == 0 {
		t.Fatalf("expected a creation timestamp")
	}
}

func TestCreateSessionValidation(t *testing.T) {
	t.Parallel()
	service := mustNewService(t, newStubStore(), newStubVerifier())

	cases := []struct {
		name    string
		session Session
		wantErr error
	}{
		{"blank host", Session{QuestionPrice: 50, AssetCode: "USD", AssetScale: 2}, ErrInvalidHostID},
		{"negative price", Session{HostID: "host-1", QuestionPrice: -1, AssetCode: "USD", AssetScale: 2}, ErrInvalidQuestionPrice},
		{"blank asset code", Session{HostID: "host-1", QuestionPrice: 50, AssetScale: 2}, ErrInvalidAssetCode},
		{"scale out of range", Session{HostID: "host-1", QuestionPrice: 50, AssetCode: "USD", AssetScale: 19}, ErrInvalidAssetScale},
	}
	for _, testCase := range cases {
		_, err := service.CreateSession(context.Background(), testCase.session)
		if !errors.Is(err, testCase.wantErr) {
			t.Fatalf("%s: expected %v, got %v", testCase.name, testCase.wantErr, err)
		}
	}
}

func TestMarkQuestionTransitions(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	store.addSession(testSession("sess-1", 50))
	store.putRecord(PaymentRecord{
		GuestID:       "guest-1",
		SessionID:     "sess-1",
		VerifiedTotal: 100,
		AssetCode:     "USD",
		AssetScale:    2,
	})
	service := mustNewService(t, store, newStubVerifier())

	question, err := service.SubmitQuestion(context.Background(), "guest-1", "sess-1", "Alex", "first?")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := service.MarkQuestion(context.Background(), "sess-1", question.QuestionID, QuestionStatusPaid); !errors.Is(err, ErrInvalidQuestionStatus) {
		t.Fatalf("expected ErrInvalidQuestionStatus for paid target, got %v", err)
	}
	if err := service.MarkQuestion(context.Background(), "sess-1", question.QuestionID, QuestionStatusAnswered); err != nil {
		t.Fatalf("mark answered: %v", err)
	}
	if err := service.MarkQuestion(context.Background(), "sess-1", question.QuestionID, QuestionStatusSkipped); !errors.Is(err, ErrQuestionClosed) {
		t.Fatalf("expected ErrQuestionClosed on second transition, got %v", err)
	}
	if err := service.MarkQuestion(context.Background(), "sess-1", "no-such-question", QuestionStatusAnswered); !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("expected ErrUnknownQuestion, got %v", err)
	}
}

func TestSessionQuestionsRequiresSession(t *testing.T) {
	t.Parallel()
	service := mustNewService(t, newStubStore(), newStubVerifier())
	_, err := service.SessionQuestions(context.Background(), "missing")
	if !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
}
