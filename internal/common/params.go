package common

// Logging params
const (
	LogOperation = "operation"
	LogService   = "service"

	LogPath       = "path"
	LogImageHash  = "image_hash"
	LogUserID     = "user_id"
	LogSource     = "source"
	LogSplit      = "split"
	LogLabel      = "label"
	LogShard      = "shard"
	LogRetryCount = "retry_count"
	LogWait       = "wait"
	LogBatchSize  = "batch_size"
	LogSize       = "size"

	// General, used across the board
	LoggingParamError = "error"
)

// Component names
const (
	ComponentValidator = "validator"
	ComponentAllocator = "allocator"
	ComponentUploader  = "uploader"
	ComponentQueue     = "queue"
	ComponentPipeline  = "pipeline"
	ComponentLedger    = "ledger"
	ComponentResolver  = "resolver"
)
