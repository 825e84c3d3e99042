package credits

import "time"

const (
	operationRegisterPayment = "register_payment"
	operationPoll            = "poll"
	operationIncrement       = "increment"
	operationSubmitQuestion  = "submit_question"
	operationCreateSession   = "create_session"
	operationMarkQuestion    = "mark_question"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	// defaultPollTimeout bounds one full pass over a guest's registered
	// payment URLs. On expiry the poll falls back to whatever it gathered.
	defaultPollTimeout = 5 * time.Second

	// maxAssetScale keeps 10^scale representable in int64.
	maxAssetScale = 18
)
