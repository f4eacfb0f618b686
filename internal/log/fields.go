package log

// Field names shared by every component's structured logs.
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldQuery      = "query"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldUserAgent  = "user_agent"
	FieldSuccess    = "success"
	FieldError      = "error"
	FieldOperation  = "operation"

	FieldExpenseID      = "expense_id"
	FieldServiceOrderID = "service_order_id"
	FieldBankID         = "bank_id"
	FieldProviderID     = "provider_id"
	FieldSpentCents     = "spent_cents"
	FieldBillCents      = "bill_cents"
	FieldExpenseDate    = "date"
	FieldAttachmentKey  = "attachment_key"
	FieldAttachments    = "attachments"
	FieldEventType      = "event_type"
)

const (
	ComponentApp         = "app"
	ComponentHTTP        = "http"
	ComponentCatalog     = "catalog"
	ComponentExpense     = "expense"
	ComponentReport      = "report"
	ComponentAttachments = "attachments"
	ComponentStorage     = "storage"
	ComponentAMQP        = "amqp"
	ComponentWorker      = "worker"
	ComponentSheets      = "sheets"
	ComponentCache       = "cache"
	ComponentTrace       = "trace"
	ComponentBackend     = "backend"
)

const (
	OpCreate   = "create"
	OpRead     = "read"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpList     = "list"
	OpRecord   = "record"
	OpReport   = "report"
	OpSign     = "sign"
	OpResolve  = "resolve"
	OpPublish  = "publish"
	OpExport   = "export"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// LogFields builds attribute lists for slog calls.
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithExpense adds the identifying and monetary fields of a ledger entry.
func (f LogFields) WithExpense(id, serviceOrderID, spentCents, billCents int64, date string) LogFields {
	f[FieldExpenseID] = id
	f[FieldServiceOrderID] = serviceOrderID
	f[FieldSpentCents] = spentCents
	f[FieldBillCents] = billCents
	f[FieldExpenseDate] = date
	return f
}

func (f LogFields) WithAttachmentKey(key string) LogFields {
	f[FieldAttachmentKey] = key
	return f
}

func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = statusCode < 400
	return f
}

// ToSlice flattens the fields into slog's alternating key/value form.
func (f LogFields) ToSlice() []any {
	out := make([]any, 0, len(f)*2)
	for k, v := range f {
		out = append(out, k, v)
	}
	return out
}
