package ratelimit

import "strings"

// RateLimitedError marks an error as a 429-classified failure so Execute
// knows to apply the retry ladder instead of returning immediately.
type RateLimitedError struct {
	StatusCode int
	Cause      error
}

func (e *RateLimitedError) Error() string {
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return "rate limited"
}

func (e *RateLimitedError) Unwrap() error { return e.Cause }

// NewRateLimitedError wraps cause as a RateLimitedError carrying the
// observed HTTP status code (0 if not from an HTTP response).
func NewRateLimitedError(statusCode int, cause error) *RateLimitedError {
	return &RateLimitedError{StatusCode: statusCode, Cause: cause}
}

// IsRateLimited reports whether err is a 429-classified failure: an HTTP
// status of 429, or the error/message matches "rate limit" / "too many
// requests" (case-insensitive),.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var rle *RateLimitedError
	if as(err, &rle) {
		if rle.StatusCode == 429 {
			return true
		}
		return matchesMessage(rle.Error())
	}
	return matchesMessage(err.Error())
}

func matchesMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests") || strings.Contains(lower, "429")
}

// as is a tiny local errors.As to avoid importing the stdlib errors package
// name clashing with the local pampaerrors import in ratelimit.go.
func as(err error, target **RateLimitedError) bool {
	for err != nil {
		if rle, ok := err.(*RateLimitedError); ok {
			*target = rle
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
