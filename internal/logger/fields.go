package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, carried through the call chain in the context logger.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldUserID is the user whose favorites or taste vector is involved
	FieldUserID = "user_id"

	// FieldImageID is the catalog image involved
	FieldImageID = "image_id"

	// FieldBackend is the similarity index backend name
	FieldBackend = "backend"

	// FieldSource is the ingestion source identifier
	FieldSource = "source"
)

// Metric fields, attached per log line through the Entry API.
const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldSize is the data size in bytes
	FieldSize = "size"

	// FieldStatus is the operation status
	FieldStatus = "status"
)
