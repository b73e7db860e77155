package providers

import (
	"net/http"
	"strconv"
	"strings"

	llmerrors "github.com/avandelay-labs/refinery/internal/llm/errors"
)

// parseRetryAfterSeconds extracts numeric Retry-After guidance when present.
func parseRetryAfterSeconds(headers http.Header) int {
	raw := headers.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0
	}
	return secs
}

// classifyErrorType maps HTTP status and provider error codes onto the
// call failure taxonomy. Provider-specific codes win over status codes.
func classifyErrorType(statusCode int, errorCode string) llmerrors.ErrorType {
	lowerCode := strings.ToLower(errorCode)
	switch {
	case strings.Contains(lowerCode, "rate") || strings.Contains(lowerCode, "limit"):
		return llmerrors.ErrorTypeRateLimit
	case strings.Contains(lowerCode, "timeout"):
		return llmerrors.ErrorTypeTimeout
	case strings.Contains(lowerCode, "overload") || strings.Contains(lowerCode, "capacity"):
		return llmerrors.ErrorTypeOverload
	case strings.Contains(lowerCode, "auth") || strings.Contains(lowerCode, "permission"):
		return llmerrors.ErrorTypeConfig
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		return llmerrors.ErrorTypeRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return llmerrors.ErrorTypeTimeout
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusInternalServerError:
		return llmerrors.ErrorTypeOverload
	case http.StatusUnauthorized, http.StatusForbidden:
		return llmerrors.ErrorTypeConfig
	default:
		if statusCode >= http.StatusInternalServerError {
			return llmerrors.ErrorTypeOverload
		}
		return llmerrors.ErrorTypeUnknown
	}
}
