package classify

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	statusPattern = regexp.MustCompile(`\b([45]\d{2})\b`)
	codePattern   = regexp.MustCompile(`\bE(?:CONN[A-Z]+|TIMEDOUT|NOTFOUND|AI_AGAIN|PIPE|HOSTUNREACH|NETUNREACH)\b`)
)

// HTTPError represents an HTTP error with status code.
// Transports that do not have a richer error type can return it directly.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// statusError is implemented by errors exposing an explicit status.
type statusError interface {
	error
	Status() int
}

// statusCodeError is implemented by errors exposing a status code.
type statusCodeError interface {
	error
	StatusCode() int
}

// responseError is implemented by errors carrying the HTTP response.
type responseError interface {
	error
	Response() *http.Response
}

// codeError is implemented by errors exposing a symbolic error code.
type codeError interface {
	error
	ErrorCode() string
}

// ExtractHTTPStatus returns the HTTP status associated with err, or 0.
// Sources are checked in order: an explicit status, a status code field,
// a nested response status, then a 4xx/5xx token in the message.
func ExtractHTTPStatus(err error) int {
	if err == nil {
		return 0
	}

	var se statusError
	if errors.As(err, &se) && validStatus(se.Status()) {
		return se.Status()
	}

	if code := statusCodeField(err); validStatus(code) {
		return code
	}

	if code := responseStatus(err); validStatus(code) {
		return code
	}

	for _, m := range statusPattern.FindAllStringSubmatch(err.Error(), -1) {
		code, _ := strconv.Atoi(m[1])
		if http.StatusText(code) != "" {
			return code
		}
	}

	return 0
}

func statusCodeField(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}

	var sce statusCodeError
	if errors.As(err, &sce) {
		return sce.StatusCode()
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) && anthropicErr.StatusCode != 0 {
		return anthropicErr.StatusCode
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return apiErr.HTTPStatusCode
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return reqErr.HTTPStatusCode
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.OK {
		return grpcToHTTP(st.Code())
	}

	return 0
}

func responseStatus(err error) int {
	var re responseError
	if errors.As(err, &re) {
		if resp := re.Response(); resp != nil {
			return resp.StatusCode
		}
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) && anthropicErr.Response != nil {
		return anthropicErr.Response.StatusCode
	}

	return 0
}

// ExtractErrorCode returns a symbolic error code associated with err, or "".
// Sources mirror ExtractHTTPStatus: an explicit code, a code field
// (provider error codes, gRPC codes, errno names), then a token in the message.
func ExtractErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var ce codeError
	if errors.As(err, &ce) && ce.ErrorCode() != "" {
		return ce.ErrorCode()
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.Code != "" {
		return httpErr.Code
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.Code != nil {
		return fmt.Sprint(apiErr.Code)
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.OK {
		return st.Code().String()
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		if name, ok := errnoNames[errno]; ok {
			return name
		}
	}

	return codePattern.FindString(err.Error())
}

var errnoNames = map[syscall.Errno]string{
	syscall.ECONNRESET:   "ECONNRESET",
	syscall.ECONNREFUSED: "ECONNREFUSED",
	syscall.ECONNABORTED: "ECONNABORTED",
	syscall.ETIMEDOUT:    "ETIMEDOUT",
	syscall.EPIPE:        "EPIPE",
	syscall.ENETUNREACH:  "ENETUNREACH",
	syscall.EHOSTUNREACH: "EHOSTUNREACH",
}

// grpcToHTTP maps a gRPC status code to the equivalent HTTP status.
func grpcToHTTP(c codes.Code) int {
	switch c {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Canceled:
		return 499
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func validStatus(code int) bool {
	return code >= 100 && code <= 599
}
