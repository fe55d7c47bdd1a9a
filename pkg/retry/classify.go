package retry

import (
	"strings"
)

// DefaultRetryableStatusCodes are the HTTP status codes that are retryable
// absent any other classification signal.
var DefaultRetryableStatusCodes = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

var retryableNetworkCodes = []string{
	"ECONNRESET",
	"ECONNREFUSED",
	"ETIMEDOUT",
	"ENOTFOUND",
	"EAI_AGAIN",
}

var retryableTextMarkers = []string{
	"rate limit",
	"service unavailable",
	"timeout",
	"timed out",
}

// Classification is the outcome of classifying a delivery error.
type Classification struct {
	Retryable bool
	Reason    string
}

// ClassifyHTTPStatus classifies an HTTP response status code.
func ClassifyHTTPStatus(status int, retryableStatusCodes map[int]bool) Classification {
	if retryableStatusCodes == nil {
		retryableStatusCodes = DefaultRetryableStatusCodes
	}
	if status == 401 || status == 403 {
		return Classification{Retryable: false, Reason: "authentication or authorization failure"}
	}
	if status >= 400 && status < 500 {
		if retryableStatusCodes[status] {
			return Classification{Retryable: true, Reason: "retryable client error status"}
		}
		return Classification{Retryable: false, Reason: "non-retryable client error status"}
	}
	if status >= 500 {
		if retryableStatusCodes[status] {
			return Classification{Retryable: true, Reason: "retryable server error status"}
		}
		return Classification{Retryable: false, Reason: "non-retryable server error status"}
	}
	return Classification{Retryable: false, Reason: "unexpected status code"}
}

// ClassifyError classifies an error by its message, covering network error
// codes and explicit rate-limit/unavailable text markers. Handlers that
// cannot express their failure as an HTTP status (SMTP, SFTP, SDK errors)
// use this path instead.
func ClassifyError(err error) Classification {
	if err == nil {
		return Classification{Retryable: false, Reason: ""}
	}
	msg := strings.ToLower(err.Error())

	for _, code := range retryableNetworkCodes {
		if strings.Contains(msg, strings.ToLower(code)) {
			return Classification{Retryable: true, Reason: "retryable network error: " + code}
		}
	}
	for _, marker := range retryableTextMarkers {
		if strings.Contains(msg, marker) {
			return Classification{Retryable: true, Reason: "retryable condition: " + marker}
		}
	}

	switch {
	case strings.Contains(msg, "invalid config"), strings.Contains(msg, "invalid payload"):
		return Classification{Retryable: false, Reason: "invalid configuration or payload"}
	case strings.Contains(msg, "destination not found"), strings.Contains(msg, "destination disabled"):
		return Classification{Retryable: false, Reason: "destination unavailable"}
	case strings.Contains(msg, "auth"):
		return Classification{Retryable: false, Reason: "authentication or authorization failure"}
	case strings.Contains(msg, "integrity check failed"):
		return Classification{Retryable: false, Reason: "integrity check failed"}
	}

	return Classification{Retryable: false, Reason: "unclassified error treated as terminal"}
}
