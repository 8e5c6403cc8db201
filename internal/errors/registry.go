package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
	DocURL   string
}

// Well-known codes.
const (
	CodeInvalidState     = "E001"
	CodeMalformedState   = "E002"
	CodeMalformedPatch   = "E003"
	CodeApplyFailed      = "E004"
	CodeEngineStopped    = "E005"
	CodeFrameTooLarge    = "E040"
	CodeUnknownFrame     = "E041"
	CodeDecodeFailed     = "E042"
	CodeConnectionFailed = "E043"
	CodeConnectionLost   = "E044"
	CodeSequenceGap      = "E045"
	CodeSnapshotVersion  = "E060"
	CodeSnapshotCorrupt  = "E061"
	CodeStoreUnavailable = "E062"
	CodeConfigNotFound   = "E080"
	CodeConfigInvalid    = "E081"
	CodeConfigEnv        = "E082"
	CodeMissingServerURL = "E100"
	CodeInvalidArgument  = "E101"
)

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// State Errors (E001-E039)
	// ============================================

	"E001": {
		Category: CategoryState,
		Message:  "Invalid state",
		Detail:   "The state violates a collection invariant or references an entity that does not exist.",
		DocURL:   "https://tablesync.dev/docs/errors/E001",
	},
	"E002": {
		Category: CategoryState,
		Message:  "Malformed state snapshot",
		Detail:   "The server sent a snapshot that failed validation. The last good state is kept.",
		DocURL:   "https://tablesync.dev/docs/errors/E002",
	},
	"E003": {
		Category: CategoryState,
		Message:  "Malformed state patch",
		Detail:   "The server sent a patch that could not be applied or produced an invalid state. The last good state is kept and a full snapshot is requested.",
		DocURL:   "https://tablesync.dev/docs/errors/E003",
	},
	"E004": {
		Category: CategoryState,
		Message:  "Action could not be applied",
		Detail:   "The action referenced a nonexistent entity or carried a malformed payload. It was dropped.",
		DocURL:   "https://tablesync.dev/docs/errors/E004",
	},
	"E005": {
		Category: CategoryState,
		Message:  "Engine stopped",
		Detail:   "The sync engine was stopped. Start a new engine to continue editing.",
		DocURL:   "https://tablesync.dev/docs/errors/E005",
	},

	// ============================================
	// Protocol Errors (E040-E059)
	// ============================================

	"E040": {
		Category: CategoryProtocol,
		Message:  "Frame too large",
		Detail:   "A frame exceeded the maximum payload size.",
		DocURL:   "https://tablesync.dev/docs/errors/E040",
	},
	"E041": {
		Category: CategoryProtocol,
		Message:  "Unknown frame type",
		Detail:   "The peer sent a frame type this build does not understand.",
		DocURL:   "https://tablesync.dev/docs/errors/E041",
	},
	"E042": {
		Category: CategoryProtocol,
		Message:  "Frame decode failed",
		Detail:   "A frame body was truncated or malformed.",
		DocURL:   "https://tablesync.dev/docs/errors/E042",
	},
	"E043": {
		Category: CategoryProtocol,
		Message:  "WebSocket connection failed",
		Detail:   "Could not connect to the sync server.",
		DocURL:   "https://tablesync.dev/docs/errors/E043",
	},
	"E044": {
		Category: CategoryProtocol,
		Message:  "Connection lost",
		Detail:   "The connection to the sync server was lost. Pending edits are kept and sent again after reconnecting.",
		DocURL:   "https://tablesync.dev/docs/errors/E044",
	},
	"E045": {
		Category: CategoryProtocol,
		Message:  "State message out of sequence",
		Detail:   "A state patch did not follow the last applied state message. A full snapshot was requested.",
		DocURL:   "https://tablesync.dev/docs/errors/E045",
	},

	// ============================================
	// Store Errors (E060-E079)
	// ============================================

	"E060": {
		Category: CategoryStore,
		Message:  "Unsupported snapshot version",
		Detail:   "The persisted snapshot was written by a different schema version and no migration is available.",
		DocURL:   "https://tablesync.dev/docs/errors/E060",
	},
	"E061": {
		Category: CategoryStore,
		Message:  "Snapshot corrupt",
		Detail:   "The persisted snapshot could not be decoded or failed validation.",
		DocURL:   "https://tablesync.dev/docs/errors/E061",
	},
	"E062": {
		Category: CategoryStore,
		Message:  "Snapshot store unavailable",
		Detail:   "The snapshot store could not be opened or reached.",
		DocURL:   "https://tablesync.dev/docs/errors/E062",
	},

	// ============================================
	// Config Errors (E080-E099)
	// ============================================

	"E080": {
		Category: CategoryConfig,
		Message:  "tablesync.json not found",
		Detail:   "The configuration file could not be found.",
		DocURL:   "https://tablesync.dev/docs/errors/E080",
	},
	"E081": {
		Category: CategoryConfig,
		Message:  "Invalid configuration",
		Detail:   "The configuration contains an invalid value.",
		DocURL:   "https://tablesync.dev/docs/errors/E081",
	},
	"E082": {
		Category: CategoryConfig,
		Message:  "Invalid environment",
		Detail:   "An environment variable could not be parsed.",
		DocURL:   "https://tablesync.dev/docs/errors/E082",
	},

	// ============================================
	// CLI Errors (E100-E119)
	// ============================================

	"E100": {
		Category: CategoryCLI,
		Message:  "Server URL required",
		Detail:   "This command talks to a running server. Pass --server or set TABLESYNC_SERVER_URL.",
		DocURL:   "https://tablesync.dev/docs/errors/E100",
	},
	"E101": {
		Category: CategoryCLI,
		Message:  "Invalid argument",
		Detail:   "A command line argument is invalid.",
		DocURL:   "https://tablesync.dev/docs/errors/E101",
	},
}

// GetAllCodes returns all registered error codes.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}
