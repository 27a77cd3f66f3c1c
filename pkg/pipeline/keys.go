package pipeline

// Reserved data keys.
const (
	// KeyParameters holds the caller's runtime parameter map in the
	// input envelope's data fields.
	KeyParameters = "parameters"
)

// Reserved metadata keys.
const (
	// KeyEngine holds the query engine the execution stage runs against.
	// A request without it fails before any backend work.
	KeyEngine = "engine"

	// KeySources holds the source provider set the engine draws
	// connections from.
	KeySources = "sources"

	// KeyOperation holds the operation name the request resolved to.
	KeyOperation = "operation"

	// KeyExecutorName records which executor produced the output.
	KeyExecutorName = "executor-name"

	// KeyExecutorTemplateResolved records the resolved statement text
	// for diagnostics. It never leaves the service layer.
	KeyExecutorTemplateResolved = "executor-template-resolved"

	// KeyPreProcessedAt records when the pre-process stage ran.
	KeyPreProcessedAt = "pre-processor-executed-at"
)

// Reserved run-context keys.
const (
	// CtxRequestID is the request identifier minted by the service.
	CtxRequestID = "request-id"

	// CtxExecutedAt marks when the execution stage started.
	CtxExecutedAt = "executed-at"

	// CtxPostProcessedAt marks when the post-process stage ran.
	CtxPostProcessedAt = "post-processor-at"
)
