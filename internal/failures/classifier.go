package failures

import (
	"strings"

	"conveyor/internal/queue"
)

// Category identifies one bucket of the closed failure taxonomy.
type Category string

const (
	FTPConnection      Category = "FTP_CONNECTION"
	FTPTimeout         Category = "FTP_TIMEOUT"
	FTPAuth            Category = "FTP_AUTH"
	FTPFileMissing     Category = "FTP_FILE_MISSING"
	FTPTransfer        Category = "FTP_TRANSFER"
	ProcessingResource Category = "PROCESSING_RESOURCE"
	ProcessingCorrupt  Category = "PROCESSING_CORRUPT"
	ProcessingError    Category = "PROCESSING_ERROR"
	StorageSpace       Category = "STORAGE_SPACE"
	StoragePermission  Category = "STORAGE_PERMISSION"
	StoragePath        Category = "STORAGE_PATH"
	Unknown            Category = "UNKNOWN"
)

var allCategories = []Category{
	FTPConnection,
	FTPTimeout,
	FTPAuth,
	FTPFileMissing,
	FTPTransfer,
	ProcessingResource,
	ProcessingCorrupt,
	ProcessingError,
	StorageSpace,
	StoragePermission,
	StoragePath,
	Unknown,
}

// AllCategories returns the known categories.
func AllCategories() []Category {
	cp := make([]Category, len(allCategories))
	copy(cp, allCategories)
	return cp
}

// ParseCategory converts a stored string back into a Category.
func ParseCategory(value string) (Category, bool) {
	normalized := Category(strings.ToUpper(strings.TrimSpace(value)))
	for _, c := range allCategories {
		if c == normalized {
			return c, true
		}
	}
	return "", false
}

// RequiresFTPReconnect reports whether recovering from the category means
// re-establishing the source connection. These failures clear fast once the
// link is back, so their backoff is halved.
func (c Category) RequiresFTPReconnect() bool {
	switch c {
	case FTPConnection, FTPTimeout, FTPAuth:
		return true
	default:
		return false
	}
}

// RequiresPathValidation reports whether recovery should re-verify the
// on-disk artifact before re-queuing work that depends on it.
func (c Category) RequiresPathValidation() bool {
	switch c {
	case FTPFileMissing, StoragePath:
		return true
	default:
		return false
	}
}

type keywordRule struct {
	category Category
	keywords []string
}

// Ordered most specific first; the first matching group wins.
var copyRules = []keywordRule{
	{FTPTimeout, []string{"timed out", "timeout", "deadline exceeded"}},
	{FTPAuth, []string{"530", "login incorrect", "authentication", "password", "credential", "access denied by server"}},
	{FTPFileMissing, []string{"550", "no such file", "file not found", "file missing"}},
	{FTPConnection, []string{"connection refused", "connection reset", "connection closed", "broken pipe", "network is unreachable", "unexpected eof"}},
	{FTPTransfer, []string{"transfer aborted", "read error", "write error", "short write"}},
	{StorageSpace, []string{"no space left", "disk full", "quota exceeded"}},
}

var processRules = []keywordRule{
	{ProcessingResource, []string{"out of memory", "oom", "cannot allocate", "cuda", "resource temporarily unavailable", "gpu"}},
	{ProcessingCorrupt, []string{"corrupt", "invalid data", "malformed", "moov atom not found", "truncated", "unrecognized format"}},
	{StorageSpace, []string{"no space left", "disk full", "quota exceeded"}},
	{StoragePath, []string{"no such file", "not found", "does not exist"}},
}

var organizeRules = []keywordRule{
	{StoragePermission, []string{"permission denied", "read-only file system", "operation not permitted", "access denied"}},
	{StorageSpace, []string{"no space left", "disk full", "quota exceeded"}},
	{StoragePath, []string{"no such file", "not found", "does not exist"}},
}

// Classify maps an error and the kind of job it failed to exactly one
// category plus a trimmed message suitable for persistence. A nil error
// yields the kind's fallback with an empty message.
func Classify(err error, kind queue.Kind) (Category, string) {
	message := ""
	if err != nil {
		message = strings.TrimSpace(err.Error())
	}
	text := strings.ToLower(message)

	var (
		rules    []keywordRule
		fallback Category
	)
	switch kind {
	case queue.KindCopy:
		rules, fallback = copyRules, FTPTransfer
	case queue.KindProcess, queue.KindTranscribe, queue.KindAnalyze:
		rules, fallback = processRules, ProcessingError
	case queue.KindOrganize:
		rules, fallback = organizeRules, Unknown
	default:
		return Unknown, message
	}

	for _, rule := range rules {
		for _, keyword := range rule.keywords {
			if strings.Contains(text, keyword) {
				return rule.category, message
			}
		}
	}
	return fallback, message
}
