package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldComponent = "component"

	// Datastore fields
	FieldKind     = "kind"
	FieldOp       = "op"
	FieldKey      = "key"
	FieldTxHandle = "tx_handle"
	FieldCursor   = "cursor"
	FieldCount    = "count"

	// Storage fields
	FieldPath   = "path"
	FieldTable  = "table"
	FieldColumn = "column"

	// Network fields
	FieldListen     = "listen"
	FieldRemoteAddr = "remote_addr"
	FieldStatus     = "status"
	FieldDurationMS = "duration_ms"
)
