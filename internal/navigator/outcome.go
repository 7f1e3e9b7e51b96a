// internal/navigator/outcome.go
package navigator

// Kind separates the three ways an attempt can end.
type Kind int

const (
	// Success carries the page body.
	Success Kind = iota
	// Retryable asks the loop to apply Action and go again.
	Retryable
	// Terminal ends the pool run with Err.
	Terminal
)

// Action is the recovery step that follows a retryable attempt.
type Action int

const (
	// ActionRetry repeats the request on the same session.
	ActionRetry Action = iota
	// ActionGrowTimeout repeats the request with one more baseline of time.
	ActionGrowTimeout
	// ActionRotate moves to the next proxy, or refreshes the session when
	// the backend cannot rotate.
	ActionRotate
	// ActionRefresh replaces the session on the same proxy.
	ActionRefresh
	// ActionCooldownRefresh sleeps the cooldown, then refreshes.
	ActionCooldownRefresh
	// ActionCooldownRetry sleeps the cooldown, then repeats on the same
	// session.
	ActionCooldownRetry
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionGrowTimeout:
		return "grow_timeout"
	case ActionRotate:
		return "rotate"
	case ActionRefresh:
		return "refresh"
	case ActionCooldownRefresh:
		return "cooldown_refresh"
	case ActionCooldownRetry:
		return "cooldown_retry"
	default:
		return "unknown"
	}
}

// Reasons recorded on outcomes and surfaced as last_reason.
const (
	ReasonClean          = "clean"
	ReasonCaptcha        = "captcha"
	ReasonCaptchaTimeout = "captcha_timeout"
	ReasonCaptchaFailed  = "captcha_failed"
	ReasonHardBlock      = "hard_block"
	ReasonForbidden      = "forbidden"
	ReasonTimeout        = "timeout"
	ReasonStatus         = "bad_status"
	ReasonTransport      = "transport_error"
	ReasonExhausted      = "exhausted"
	ReasonCanceled       = "canceled"
	ReasonConfiguration  = "configuration"
)

// Outcome is the result of one loop iteration.
type Outcome struct {
	Kind   Kind
	Body   string
	Reason string
	Action Action
	Status int
	// Charged is set when the retry consumes one try of the pool budget.
	Charged bool
	Err     error
}

func success(body string, status int) Outcome {
	return Outcome{Kind: Success, Body: body, Reason: ReasonClean, Status: status}
}

func retry(reason string, action Action, status int, charged bool) Outcome {
	return Outcome{Kind: Retryable, Reason: reason, Action: action, Status: status, Charged: charged}
}

func terminal(reason string, status int, err error) Outcome {
	return Outcome{Kind: Terminal, Reason: reason, Status: status, Err: err}
}
