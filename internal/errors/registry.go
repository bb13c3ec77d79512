package errors

import (
	"sort"
	"sync"
)

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

var (
	registryMu sync.RWMutex

	// registry maps error codes to their templates.
	registry = map[string]ErrorTemplate{
		// Configuration (L100-L199)

		"L101": {
			Category:   CategoryConfig,
			Message:    "Configuration file not found",
			Detail:     "No lugma.yaml was found in the project directory.",
			Suggestion: "Run 'lugma serve' from the directory holding lugma.yaml, or pass --dir",
		},
		"L102": {
			Category: CategoryConfig,
			Message:  "Invalid lugma.yaml",
			Detail:   "The configuration file could not be parsed as YAML.",
		},
		"L103": {
			Category: CategoryConfig,
			Message:  "Invalid configuration value",
		},
		"L104": {
			Category: CategoryConfig,
			Message:  "Failed to write configuration",
		},

		// Transport (L200-L299)

		"L201": {
			Category:   CategoryTransport,
			Message:    "Connection failed",
			Detail:     "The server could not be reached or the connection broke before a response arrived.",
			Suggestion: "Check that the server is running and that --base-url is correct",
		},
		"L202": {
			Category: CategoryTransport,
			Message:  "Remote error",
			Detail:   "The server answered with an error payload.",
		},
		"L203": {
			Category:   CategoryTransport,
			Message:    "Invalid base URL",
			Suggestion: "Use an absolute http:// or https:// URL, e.g. http://localhost:8080",
		},
		"L204": {
			Category: CategoryTransport,
			Message:  "Invalid response",
			Detail:   "The server answered 200 with a body that is not JSON.",
		},

		// Protocol (L300-L399)

		"L301": {
			Category: CategoryProtocol,
			Message:  "Invalid frame",
			Detail:   "An event frame must be a JSON object with a non-empty \"kind\" and a \"content\" value.",
		},
		"L302": {
			Category: CategoryProtocol,
			Message:  "Stream closed",
			Detail:   "The event stream was closed before the operation completed.",
		},
		"L303": {
			Category: CategoryProtocol,
			Message:  "Invalid handshake",
			Detail:   "The first stream frame must be a JSON value carrying the connection metadata.",
		},

		// CLI (L400-L499)

		"L401": {
			Category:   CategoryCLI,
			Message:    "Invalid header",
			Suggestion: "Headers are given as -H key=value",
		},
		"L402": {
			Category: CategoryCLI,
			Message:  "Invalid JSON argument",
		},
		"L403": {
			Category:   CategoryCLI,
			Message:    "Invalid event line",
			Suggestion: "Each input line is an event name followed by JSON content, e.g. chat {\"text\":\"hi\"}",
		},
		"L404": {
			Category:   CategoryCLI,
			Message:    "Invalid error format",
			Suggestion: "Use --error-format pretty, compact or json",
		},
	}
)

// GetAllCodes returns all registered error codes in order.
func GetAllCodes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	t, ok := registry[code]
	return t, ok
}

// Register adds or replaces an error template.
func Register(code string, template ErrorTemplate) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = template
}
