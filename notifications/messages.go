package notifications

// Message is one websocket notification frame.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Transaction status progression for one (addresses, chain) tuple. For a
// given tuple the statuses are emitted strictly in this order with no
// interleaving.
const (
	StatusQueryingTransactionsStarted  = "querying_transactions_started"
	StatusQueryingTransactionsFinished = "querying_transactions_finished"
	StatusDecodingTransactionsStarted  = "decoding_transactions_started"
	StatusDecodingTransactionsFinished = "decoding_transactions_finished"
)

// TransactionStatusData is the payload of a transaction_status message.
type TransactionStatusData struct {
	Addresses []string `json:"addresses"`
	Chain     string   `json:"chain"`
	Subtype   string   `json:"subtype"`
	Status    string   `json:"status"`
}

// NewTransactionStatus builds a transaction_status message.
func NewTransactionStatus(addresses []string, chainName, subtype, status string) Message {
	return Message{
		Type: "transaction_status",
		Data: TransactionStatusData{
			Addresses: addresses,
			Chain:     chainName,
			Subtype:   subtype,
			Status:    status,
		},
	}
}

// MissingAPIKeyData is the payload of a missing_api_key message. Not fatal;
// the user is told which service needs a key.
type MissingAPIKeyData struct {
	Service string `json:"service"`
}

// NewMissingAPIKey builds a missing_api_key message.
func NewMissingAPIKey(service string) Message {
	return Message{Type: "missing_api_key", Data: MissingAPIKeyData{Service: service}}
}

// ProgressData is the payload of a progress message for long-running sync
// jobs.
type ProgressData struct {
	TaskID     string `json:"task_id"`
	Step       int    `json:"step"`
	TotalSteps int    `json:"total_steps"`
}

// NewProgress builds a progress message.
func NewProgress(taskID string, step, totalSteps int) Message {
	return Message{
		Type: "progress",
		Data: ProgressData{TaskID: taskID, Step: step, TotalSteps: totalSteps},
	}
}

// UserMessageData is the payload of a user-visible toast message.
type UserMessageData struct {
	Verbosity string `json:"verbosity"`
	Message   string `json:"message"`
}

// NewUserMessage builds a message-aggregator toast frame.
func NewUserMessage(verbosity, message string) Message {
	return Message{Type: "message", Data: UserMessageData{Verbosity: verbosity, Message: message}}
}
