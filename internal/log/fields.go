package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldOperation  = "operation"

	FieldUserID      = "user_id"
	FieldItemID      = "item_id"
	FieldBillID      = "bill_id"
	FieldUsername    = "username"
	FieldAmountCents = "amount_cents"
	FieldRowCount    = "row_count"
	FieldExportKind  = "export_kind"
	FieldRecipients  = "recipients"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentBilling = "billing"
	ComponentExport  = "export"
	ComponentStorage = "storage"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
	ComponentMail    = "mail"
	ComponentSheets  = "sheets"
	ComponentImport  = "import"
	ComponentTickets = "tickets"
)

// Operations defines standard operation names
const (
	OpFinalize = "finalize"
	OpExport   = "export"
	OpDeliver  = "deliver"
	OpImport   = "import"
)
