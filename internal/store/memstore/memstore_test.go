package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/askstream/askstream/pkg/credits"
)

func TestCreateSessionRejectsDuplicate(t *testing.T) {
	t.Parallel()
	store := New()
	session := credits.Session{SessionID: "sess-1", HostID: "host-1", QuestionPrice: 50, AssetCode: "USD", AssetScale: 2}

	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := store.CreateSession(context.Background(), session)
	if !errors.Is(err, credits.ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func TestGetSessionMissing(t *testing.T) {
	t.Parallel()
	store := New()
	_, found, err := store.GetSession(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatalf("expected not found")
	}
}

func TestPaymentRecordRoundTripCopiesURLSlice(t *testing.T) {
	t.Parallel()
	store := New()
	record := credits.PaymentRecord{
		GuestID:             "guest-1",
		SessionID:           "sess-1",
		IncomingPaymentURLs: []string{"https://wallet.example/ip/1"},
		VerifiedTotal:       100,
		AssetCode:           "USD",
		AssetScale:          2,
	}
	if err := store.SavePaymentRecord(context.Background(), record); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Mutating the caller's slice must not reach the stored copy.
	record.IncomingPaymentURLs[0] = "https://evil.example/ip/1"

	loaded, found, err := store.GetPaymentRecord(context.Background(), "guest-1", "sess-1")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if loaded.IncomingPaymentURLs[0] != "https://wallet.example/ip/1" {
		t.Fatalf("stored slice was aliased: %v", loaded.IncomingPaymentURLs)
	}
	if loaded.VerifiedTotal != 100 {
		t.Fatalf("expected verified total 100, got %d", loaded.VerifiedTotal)
	}
}

func TestUpdateQuestionStatusTransitions(t *testing.T) {
	t.Parallel()
	store := New()
	question := credits.Question{
		QuestionID: "q-1",
		SessionID:  "sess-1",
		GuestID:    "guest-1",
		Text:       "why?",
		Status:     credits.QuestionStatusPaid,
	}
	if err := store.InsertQuestion(context.Background(), question); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := store.UpdateQuestionStatus(context.Background(), "sess-1", "q-1", credits.QuestionStatusPaid, credits.QuestionStatusAnswered); err != nil {
		t.Fatalf("update: %v", err)
	}
	err := store.UpdateQuestionStatus(context.Background(), "sess-1", "q-1", credits.QuestionStatusPaid, credits.QuestionStatusSkipped)
	if !errors.Is(err, credits.ErrQuestionClosed) {
		t.Fatalf("expected ErrQuestionClosed, got %v", err)
	}
	err = store.UpdateQuestionStatus(context.Background(), "sess-1", "q-404", credits.QuestionStatusPaid, credits.QuestionStatusAnswered)
	if !errors.Is(err, credits.ErrUnknownQuestion) {
		t.Fatalf("expected ErrUnknownQuestion, got %v", err)
	}
}

func TestListQuestionsNewestFirst(t *testing.T) {
	t.Parallel()
	store := New()
	for i, created := range []int64{100, 300, 200} {
		question := credits.Question{
			QuestionID:     string(rune('a' + i)),
			SessionID:      "sess-1",
			GuestID:        "guest-1",
			Text:           "q",
			Status:         credits.QuestionStatusPaid,
			CreatedUnixUTC: created,
		}
		if err := store.InsertQuestion(context.Background(), question); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	questions, err := store.ListQuestions(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(questions) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(questions))
	}
	if questions[0].CreatedUnixUTC != 300 || questions[2].CreatedUnixUTC != 100 {
		t.Fatalf("expected newest first, got %v %v %v",
			questions[0].CreatedUnixUTC, questions[1].CreatedUnixUTC, questions[2].CreatedUnixUTC)
	}
}

func TestCountChargedQuestionsSkipsAwaitingPayment(t *testing.T) {
	t.Parallel()
	store := New()
	statuses := []credits.QuestionStatus{
		credits.QuestionStatusPaid,
		credits.QuestionStatusAnswered,
		credits.QuestionStatusSkipped,
		credits.QuestionStatusAwaitingPayment,
	}
	for i, status := range statuses {
		question := credits.Question{
			QuestionID: string(rune('a' + i)),
			SessionID:  "sess-1",
			GuestID:    "guest-1",
			Text:       "q",
			Status:     status,
		}
		if err := store.InsertQuestion(context.Background(), question); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	count, err := store.CountChargedQuestions(context.Background(), "sess-1", "guest-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 charged questions, got %d", count)
	}
}

func TestWithTxSerializesAccess(t *testing.T) {
	t.Parallel()
	store := New()
	if err := store.SavePaymentRecord(context.Background(), credits.PaymentRecord{
		GuestID:   "guest-1",
		SessionID: "sess-1",
	}); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			err := store.WithTx(context.Background(), func(ctx context.Context, txStore credits.Store) error {
				record, _, err := txStore.GetPaymentRecordForUpdate(ctx, "guest-1", "sess-1")
				if err != nil {
					return err
				}
				record.StreamedTotal++
				return txStore.SavePaymentRecord(ctx, record)
			})
			if err != nil {
				t.Errorf("tx: %v", err)
			}
		}()
	}
	wg.Wait()

	record, _, err := store.GetPaymentRecord(context.Background(), "guest-1", "sess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.StreamedTotal != workers {
		t.Fatalf("expected %d after %d serialized increments, got %d", workers, workers, record.StreamedTotal)
	}
}
