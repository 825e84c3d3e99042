package credits

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Service contains the balance-reconciliation and credit-gate logic over a
// Store and a PaymentVerifier.
type Service struct {
	store       Store
	verifier    PaymentVerifier
	nowFn       func() int64
	logger      OperationLogger
	pollTimeout time.Duration
}

// NewService wires a Service.
func NewService(store Store, verifier PaymentVerifier, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if verifier == nil {
		return nil, fmt.Errorf("%w: verifier dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:       store,
		verifier:    verifier,
		nowFn:       now,
		pollTimeout: defaultPollTimeout,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// RegisterIncomingPaymentURL records a payment-reference URL for the guest.
// Registration is idempotent: a URL that is already known is a no-op. The
// first registration of a URL triggers one verification poll so balance
// movement shows up without waiting for the regular poll cycle; a failed
// poll does not fail the registration.
func (service *Service) RegisterIncomingPaymentURL(ctx context.Context, guestID string, sessionID string, paymentURL string, assetCode string, assetScale int32) (PaymentRecord, error) {
	guestID, sessionID, err := normalizeKeys(guestID, sessionID)
	if err != nil {
		return PaymentRecord{}, err
	}
	paymentURL, err = normalizePaymentURL(paymentURL)
	if err != nil {
		return PaymentRecord{}, err
	}
	if strings.TrimSpace(assetCode) == "" {
		return PaymentRecord{}, fmt.Errorf("%w: empty value", ErrInvalidAssetCode)
	}
	if err := ValidateAssetScale(assetScale); err != nil {
		return PaymentRecord{}, err
	}

	var record PaymentRecord
	var added bool
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		session, found, err := txStore.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !found {
			return ErrUnknownSession
		}
		stored, found, err := txStore.GetPaymentRecordForUpdate(ctx, guestID, sessionID)
		if err != nil {
			return err
		}
		if !found {
			stored = newPaymentRecord(guestID, sessionID, session)
		}
		service.normalizeRecord(ctx, &stored, session)
		if !stored.HasIncomingPaymentURL(paymentURL) {
			stored.IncomingPaymentURLs = append(stored.IncomingPaymentURLs, paymentURL)
			added = true
		}
		stored.LastUpdated = service.nowFn()
		if err := txStore.SavePaymentRecord(ctx, stored); err != nil {
			return err
		}
		record = stored
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationRegisterPayment,
		GuestID:    guestID,
		SessionID:  sessionID,
		PaymentURL: paymentURL,
		Error:      operationError,
	})
	if operationError != nil {
		return PaymentRecord{}, operationError
	}
	if added {
		// Best effort: the registration already committed, and the poll logs
		// its own outcome.
		if _, err := service.PollAndReconcile(ctx, guestID, sessionID); err == nil {
			if refreshed, found, err := service.store.GetPaymentRecord(ctx, guestID, sessionID); err == nil && found {
				record = refreshed
			}
		}
	}
	return record, nil
}

// PollAndReconcile fetches the received amount for every registered payment
// URL and ratchets the verified total upward. The aggregate over multiple
// URLs is the maximum single-URL amount, not the sum: concurrent incoming
// payments for one guest are treated as alternative channels that may report
// the same underlying payment. Per-URL failures are logged and skipped; one
// overall timeout bounds the whole pass.
func (service *Service) PollAndReconcile(ctx context.Context, guestID string, sessionID string) (PollResult, error) {
	guestID, sessionID, err := normalizeKeys(guestID, sessionID)
	if err != nil {
		return PollResult{}, err
	}
	session, found, err := service.store.GetSession(ctx, sessionID)
	if err != nil {
		return PollResult{}, err
	}
	if !found {
		return PollResult{}, ErrUnknownSession
	}
	record, found, err := service.store.GetPaymentRecord(ctx, guestID, sessionID)
	if err != nil {
		return PollResult{}, err
	}
	if !found {
		// First-time guest: nothing to poll, well-defined empty state.
		return PollResult{AssetCode: session.AssetCode, AssetScale: session.AssetScale}, nil
	}

	polled := service.pollReceivedAmount(ctx, record, session)

	var result PollResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		stored, found, err := txStore.GetPaymentRecordForUpdate(ctx, guestID, sessionID)
		if err != nil {
			return err
		}
		if !found {
			stored = newPaymentRecord(guestID, sessionID, session)
		}
		changed := service.normalizeRecord(ctx, &stored, session)
		result.PreviousTotal = stored.TotalReceived()
		if polled > stored.VerifiedTotal {
			stored.VerifiedTotal = polled
			changed = true
		}
		if changed {
			stored.LastUpdated = service.nowFn()
			if err := txStore.SavePaymentRecord(ctx, stored); err != nil {
				return err
			}
		}
		result.TotalReceived = stored.TotalReceived()
		result.Updated = result.TotalReceived != result.PreviousTotal
		result.AssetCode = stored.AssetCode
		result.AssetScale = stored.AssetScale
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationPoll,
		GuestID:    guestID,
		SessionID:  sessionID,
		Amount:     result.TotalReceived,
		AssetCode:  result.AssetCode,
		AssetScale: result.AssetScale,
		Error:      operationError,
	})
	if operationError != nil {
		return PollResult{}, operationError
	}
	return result, nil
}

// IncrementBalance applies a streaming increment: each event represents new
// money, so deltas sum instead of ratcheting. At-most-once delivery of each
// increment is the event source's guarantee, not reconciled here.
func (service *Service) IncrementBalance(ctx context.Context, guestID string, sessionID string, delta Amount) (PaymentRecord, error) {
	guestID, sessionID, err := normalizeKeys(guestID, sessionID)
	if err != nil {
		return PaymentRecord{}, err
	}
	if delta.Value < 0 {
		return PaymentRecord{}, fmt.Errorf("%w: negative increment", ErrInvalidAmount)
	}
	if err := ValidateAssetScale(delta.AssetScale); err != nil {
		return PaymentRecord{}, err
	}

	var record PaymentRecord
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		session, found, err := txStore.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !found {
			return ErrUnknownSession
		}
		stored, found, err := txStore.GetPaymentRecordForUpdate(ctx, guestID, sessionID)
		if err != nil {
			return err
		}
		if !found {
			stored = newPaymentRecord(guestID, sessionID, session)
		}
		service.normalizeRecord(ctx, &stored, session)
		stored.StreamedTotal += ConvertValue(delta.Value, delta.AssetScale, session.AssetScale)
		stored.LastUpdated = service.nowFn()
		if err := txStore.SavePaymentRecord(ctx, stored); err != nil {
			return err
		}
		record = stored
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationIncrement,
		GuestID:    guestID,
		SessionID:  sessionID,
		Amount:     delta.Value,
		AssetCode:  delta.AssetCode,
		AssetScale: delta.AssetScale,
		Error:      operationError,
	})
	if operationError != nil {
		return PaymentRecord{}, operationError
	}
	return record, nil
}

// pollReceivedAmount fetches every URL under one shared timeout and returns
// the maximum observed amount, already converted to the session currency.
// On timeout it returns the best value gathered so far.
func (service *Service) pollReceivedAmount(ctx context.Context, record PaymentRecord, session Session) int64 {
	if len(record.IncomingPaymentURLs) == 0 {
		return 0
	}
	pollCtx, cancel := context.WithTimeout(ctx, service.pollTimeout)
	defer cancel()

	var best int64
	for _, paymentURL := range record.IncomingPaymentURLs {
		if pollCtx.Err() != nil {
			break
		}
		amount, _, err := service.verifier.ReceivedAmount(pollCtx, paymentURL)
		if err == nil {
			// An out-of-range scale is no evidence of money, same as a
			// malformed body.
			err = ValidateAssetScale(amount.AssetScale)
		}
		if err != nil {
			service.logOperation(ctx, OperationLog{
				Operation:  operationPoll,
				GuestID:    record.GuestID,
				SessionID:  record.SessionID,
				PaymentURL: paymentURL,
				Error:      err,
			})
			continue
		}
		normalized := ConvertValue(amount.Value, amount.AssetScale, session.AssetScale)
		if normalized > best {
			best = normalized
		}
	}
	return best
}

// normalizeRecord forces the record into the session currency. Mismatched or
// legacy currency data self-heals here; a mismatch is logged, never an error.
func (service *Service) normalizeRecord(ctx context.Context, record *PaymentRecord, session Session) bool {
	if record.AssetCode == session.AssetCode && record.AssetScale == session.AssetScale {
		return false
	}
	if record.AssetCode != "" && record.AssetCode != session.AssetCode {
		service.logOperation(ctx, OperationLog{
			Operation:  operationPoll,
			GuestID:    record.GuestID,
			SessionID:  record.SessionID,
			Amount:     record.TotalReceived(),
			AssetCode:  record.AssetCode,
			AssetScale: record.AssetScale,
			Status:     "currency_mismatch",
		})
	}
	record.VerifiedTotal = ConvertValue(record.VerifiedTotal, record.AssetScale, session.AssetScale)
	record.StreamedTotal = ConvertValue(record.StreamedTotal, record.AssetScale, session.AssetScale)
	record.AssetCode = session.AssetCode
	record.AssetScale = session.AssetScale
	return true
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func newPaymentRecord(guestID string, sessionID string, session Session) PaymentRecord {
	return PaymentRecord{
		GuestID:    guestID,
		SessionID:  sessionID,
		AssetCode:  session.AssetCode,
		AssetScale: session.AssetScale,
	}
}

func normalizeKeys(guestID string, sessionID string) (string, string, error) {
	guestID = strings.TrimSpace(guestID)
	if guestID == "" {
		return "", "", fmt.Errorf("%w: empty value", ErrInvalidGuestID)
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", "", fmt.Errorf("%w: empty value", ErrInvalidSessionID)
	}
	return guestID, sessionID, nil
}

func normalizePaymentURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPaymentURL, err)
	}
	if (parsed.Scheme != "https" && parsed.Scheme != "http") || parsed.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPaymentURL, trimmed)
	}
	return trimmed, nil
}
