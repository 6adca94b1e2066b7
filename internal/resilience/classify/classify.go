// Package classify maps outbound call failures to a category and a retry
// recommendation.
//
// Classification is a pure function of the error: it inspects status codes
// carried by the error (our HTTPError, Anthropic and OpenAI SDK errors, gRPC
// statuses), symbolic codes (errno names, provider codes) and the message text,
// then applies the ordered rules of a Policy.
package classify

import (
	"context"
	"errors"
	"strings"
)

// Category is the failure category assigned to an error.
type Category string

const (
	CategoryTransient   Category = "TRANSIENT"
	CategoryRateLimit   Category = "RATE_LIMIT"
	CategoryPermanent   Category = "PERMANENT"
	CategoryServerError Category = "SERVER_ERROR"
	CategoryUnknown     Category = "UNKNOWN"
)

// Categories lists every category in precedence order, UNKNOWN last.
var Categories = []Category{
	CategoryRateLimit,
	CategoryTransient,
	CategoryPermanent,
	CategoryServerError,
	CategoryUnknown,
}

// String returns the category name.
func (c Category) String() string {
	return string(c)
}

// Label returns the lower-case form used for metric labels.
func (c Category) Label() string {
	return strings.ToLower(string(c))
}

// Classification is the result of classifying an error.
type Classification struct {
	Category    Category
	ShouldRetry bool
	Message     string
	HTTPStatus  int    // 0 when no status could be extracted
	ErrorCode   string // empty when no code could be extracted
}

// Classifier applies a Policy to errors. It is safe for concurrent use.
type Classifier struct {
	policy Policy
}

// NewClassifier creates a classifier using the given policy.
func NewClassifier(policy Policy) *Classifier {
	return &Classifier{policy: policy}
}

// Default returns a classifier using DefaultPolicy.
func Default() *Classifier {
	return defaultClassifier
}

var defaultClassifier = NewClassifier(DefaultPolicy())

// Classify classifies err with the default policy.
func Classify(err error) Classification {
	return defaultClassifier.Classify(err)
}

// Policy returns the policy used by the classifier.
func (c *Classifier) Policy() Policy {
	return c.policy
}

// Classify maps err to a Classification. A nil error, a canceled context and
// any error matching no rule are UNKNOWN and never retried.
func (c *Classifier) Classify(err error) Classification {
	if err == nil {
		return Classification{
			Category:    CategoryUnknown,
			ShouldRetry: false,
			Message:     "no error",
		}
	}

	result := Classification{
		Category:    CategoryUnknown,
		ShouldRetry: false,
		Message:     err.Error(),
		HTTPStatus:  ExtractHTTPStatus(err),
		ErrorCode:   ExtractErrorCode(err),
	}

	// Context errors are never retried.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return result
	}

	text := strings.ToLower(result.Message + " " + result.ErrorCode)
	timeout := isTimeout(err)

	for _, rule := range c.policy.Rules {
		if rule.matches(result.HTTPStatus, text, timeout) {
			result.Category = rule.Category
			result.ShouldRetry = rule.Retry
			return result
		}
	}

	return result
}

func (r Rule) matches(status int, text string, timeout bool) bool {
	if status != 0 {
		for _, s := range r.Statuses {
			if s == status {
				return true
			}
		}
		if r.StatusMin != 0 && status >= r.StatusMin && status <= r.StatusMax {
			return true
		}
	}

	if r.MatchTimeout && timeout {
		return true
	}

	for _, kw := range r.Keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// isTimeout reports whether any error in the chain reports a timeout
// (net.Error, os.ErrDeadlineExceeded).
func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
