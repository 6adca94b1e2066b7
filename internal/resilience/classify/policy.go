package classify

// PolicyVersion identifies the keyword/status tables below. Tests lock the
// tables to this version; changing a table requires bumping it.
const PolicyVersion = "2025.1"

// Rule maps a set of HTTP statuses and message keywords to a category.
type Rule struct {
	// Category assigned when the rule matches.
	Category Category

	// Retry is the retry recommendation for the category.
	Retry bool

	// Statuses lists exact HTTP status codes that match.
	Statuses []int

	// StatusMin and StatusMax define an inclusive status range that matches.
	// Zero values disable the range.
	StatusMin int
	StatusMax int

	// Keywords are lower-case substrings searched in the error message and code.
	Keywords []string

	// MatchTimeout also matches errors reporting Timeout() == true.
	MatchTimeout bool
}

// Policy is an ordered list of rules. The first matching rule wins;
// an error matching no rule is UNKNOWN and is not retried.
type Policy struct {
	Version string
	Rules   []Rule
}

// DefaultPolicy returns the classification tables in precedence order:
// RATE_LIMIT, TRANSIENT, PERMANENT, SERVER_ERROR.
func DefaultPolicy() Policy {
	return Policy{
		Version: PolicyVersion,
		Rules: []Rule{
			{
				Category: CategoryRateLimit,
				Retry:    true,
				Statuses: []int{429},
				Keywords: []string{
					"rate limit",
					"rate_limit",
					"ratelimit",
					"too many requests",
					"quota exceeded",
					"quota_exceeded",
				},
			},
			{
				Category:     CategoryTransient,
				Retry:        true,
				Statuses:     []int{408, 504},
				MatchTimeout: true,
				Keywords: []string{
					"timeout",
					"timed out",
					"etimedout",
					"econnreset",
					"econnrefused",
					"econnaborted",
					"socket hang up",
					"connection reset",
					"connection refused",
					"broken pipe",
					"epipe",
					"eai_again",
					"enetunreach",
					"ehostunreach",
				},
			},
			{
				Category: CategoryPermanent,
				Retry:    false,
				Statuses: []int{400, 401, 403, 404, 405, 422},
				Keywords: []string{
					"unauthorized",
					"forbidden",
					"not found",
					"invalid api key",
					"invalid_api_key",
					"bad request",
					"invalid_request",
				},
			},
			{
				Category:  CategoryServerError,
				Retry:     true,
				StatusMin: 500,
				StatusMax: 599,
				Keywords: []string{
					"internal server error",
					"bad gateway",
					"service unavailable",
					"overloaded",
				},
			},
		},
	}
}
