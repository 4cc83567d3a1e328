package reliability

// FailureClass buckets backend failures by what the caller should do about
// them: fix configuration, try again later, or grant a permission.
type FailureClass string

const (
	FailureConfiguration FailureClass = "configuration"
	FailureTransient     FailureClass = "transient"
	FailurePermission    FailureClass = "permission"
)

// ClassifyHTTPStatus maps a speech-service HTTP status to a failure class.
func ClassifyHTTPStatus(code int) FailureClass {
	switch code {
	case 401, 403:
		return FailurePermission
	case 400, 404, 405, 415:
		return FailureConfiguration
	default:
		return FailureTransient
	}
}

// IsRetryableHTTPStatus classifies transient HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableRealtimeMessageType classifies transient upstream realtime errors.
func IsRetryableRealtimeMessageType(messageType string) bool {
	switch messageType {
	case "rate_limited", "resource_exhausted", "queue_overflow", "error":
		return true
	default:
		return false
	}
}
