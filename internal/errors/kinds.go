package errors

// Kind discriminates errors at the service boundary. The HTTP shell maps
// kinds to status codes; the CLI maps them to exit messages.
type Kind string

const (
	// KindInvalidConfig indicates a malformed or incomplete configuration.
	KindInvalidConfig Kind = "InvalidConfig"

	// KindInvalidQuery indicates a malformed query (empty text, top_k = 0,
	// unknown mode).
	KindInvalidQuery Kind = "InvalidQuery"

	// KindInvalidFilter indicates an unknown filter key or malformed value.
	KindInvalidFilter Kind = "InvalidFilter"

	// KindStorageDimensionMismatch indicates the configured embedding model's
	// dimension disagrees with the stored embedding metadata record.
	KindStorageDimensionMismatch Kind = "StorageDimensionMismatch"

	// KindStorageUnavailable indicates the backend cannot be reached or is
	// not initialized.
	KindStorageUnavailable Kind = "StorageUnavailable"

	// KindProviderUnavailable indicates an embedding or LLM provider is down.
	KindProviderUnavailable Kind = "ProviderUnavailable"

	// KindProviderTimeout indicates a provider call exceeded its deadline.
	KindProviderTimeout Kind = "ProviderTimeout"

	// KindAlreadyRunning indicates another live instance owns this project.
	KindAlreadyRunning Kind = "AlreadyRunning"

	// KindLockHeld indicates the instance lock is held and could not be broken.
	KindLockHeld Kind = "LockHeld"

	// KindGraphDisabled indicates a graph-mode query against a project with
	// graph extraction disabled.
	KindGraphDisabled Kind = "GraphDisabled"

	// KindRerankDisabled indicates a rerank request without a configured
	// rerank provider.
	KindRerankDisabled Kind = "RerankDisabled"

	// KindDeadlineExceeded indicates a request-scoped deadline expired.
	KindDeadlineExceeded Kind = "DeadlineExceeded"

	// KindCancelled indicates cooperative cancellation was observed.
	KindCancelled Kind = "Cancelled"

	// KindInterruptedByRestart marks jobs that were RUNNING when the
	// instance died.
	KindInterruptedByRestart Kind = "InterruptedByRestart"

	// KindNotFound indicates a lookup of an unknown job or resource.
	KindNotFound Kind = "NotFound"

	// KindConflict indicates an operation refused because of current state
	// (e.g. add while a job is running).
	KindConflict Kind = "Conflict"

	// KindInternal is the fallback for unclassified failures.
	KindInternal Kind = "Internal"
)

// retryableKinds are transient by nature; callers wrap their operations in
// Retry when one of these surfaces.
var retryableKinds = map[Kind]bool{
	KindStorageUnavailable:  true,
	KindProviderUnavailable: true,
	KindProviderTimeout:     true,
}

// Retryable reports whether the kind is transient.
func (k Kind) Retryable() bool {
	return retryableKinds[k]
}
