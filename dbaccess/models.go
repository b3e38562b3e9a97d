package dbaccess

// RawTransaction is the durable record of a fetched transaction, keyed by
// (chain, tx id). The payload blob holds the typed transaction as JSON,
// exactly as assembled from the provider response.
type RawTransaction struct {
	ID                   uint64 `gorm:"primary_key"`
	Chain                string `gorm:"not null;unique_index:idx_raw_chain_txid"`
	TxID                 string `gorm:"not null;unique_index:idx_raw_chain_txid"`
	Block                int64
	TimestampMS          int64
	Fee                  string
	Payload              []byte `gorm:"type:mediumblob"`
	DecodedSchemaVersion int    `gorm:"index"`
}

// RawTransactionLink associates a tracked address with a raw transaction it
// participates in, so "transactions of address X" is answerable locally.
type RawTransactionLink struct {
	ID      uint64 `gorm:"primary_key"`
	Chain   string `gorm:"not null;unique_index:idx_link_chain_txid_addr;index:idx_link_addr_chain"`
	TxID    string `gorm:"not null;unique_index:idx_link_chain_txid_addr"`
	Address string `gorm:"not null;unique_index:idx_link_chain_txid_addr;index:idx_link_addr_chain"`
}

// HistoryEvent is the stored form of a normalized history event.
type HistoryEvent struct {
	ID              uint64 `gorm:"primary_key"`
	EventIdentifier string `gorm:"not null;unique_index:idx_event_ident_seq;index"`
	SequenceIndex   uint64 `gorm:"not null;unique_index:idx_event_ident_seq"`
	TimestampMS     int64  `gorm:"index"`
	Location        string
	EventType       string
	EventSubtype    string
	Asset           string
	Amount          string
	LocationLabel   string `gorm:"index"`
	Notes           string `gorm:"type:text"`
	Counterparty    string
	Address         string
	ExtraData       string `gorm:"type:text"`

	// CustomizedNotes is set once the user edits the notes field, so
	// re-decodes know to preserve it.
	CustomizedNotes bool
}

// QueryRange is one coalesced wall-clock interval already fetched for a
// fingerprint.
type QueryRange struct {
	ID          uint64 `gorm:"primary_key"`
	Fingerprint string `gorm:"not null;unique_index:idx_range_fp_start"`
	StartTS     int64  `gorm:"not null;unique_index:idx_range_fp_start"`
	EndTS       int64  `gorm:"not null"`
}

// IgnoredAction marks an action the user excluded from accounting.
type IgnoredAction struct {
	ID         uint64 `gorm:"primary_key"`
	ActionType string `gorm:"not null;unique_index:idx_ignored_type_id"`
	ExternalID string `gorm:"not null;unique_index:idx_ignored_type_id"`
}

// Setting is a single name/value server setting.
type Setting struct {
	Name  string `gorm:"primary_key"`
	Value string
}

// Account is a tracked address. Address keeps the form the user entered;
// Canonical is the internal form used when talking to providers (these only
// differ for Bitcoin Cash).
type Account struct {
	ID        uint64 `gorm:"primary_key"`
	Chain     string `gorm:"not null;unique_index:idx_account_chain_addr"`
	Address   string `gorm:"not null;unique_index:idx_account_chain_addr"`
	Canonical string `gorm:"not null;index"`
	Label     string
}
