// internal/errors/service.go - turns fetch-layer errors into CLI output,
// exit codes and a circuit breaker for the HTTP server
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/valpere/ScholarNav/internal/utils"
)

// Exit codes returned by the command line.
const (
	ExitOK            = 0
	ExitGeneral       = 1
	ExitConfiguration = 2
	ExitExhausted     = 3
	ExitBrowser       = 4
	ExitProxy         = 5
	ExitHardBlock     = 7
	ExitAuth          = 8
	ExitCanceled      = 130
)

// Service presents errors to people and guards the server against
// hammering a service that is blocking us.
type Service struct {
	messageHandler  *MessageHandler
	circuitBreakers map[string]*CircuitBreaker
	breakerConfig   CircuitBreakerConfig
	mu              sync.RWMutex
}

// MessageHandler converts technical errors to user-friendly messages
type MessageHandler struct {
	showTechnical bool
}

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int

const (
	CircuitClosed CircuitBreakerState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures circuit breaker behavior
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// CircuitBreaker opens after MaxFailures consecutive failures and lets one
// probe through after ResetTimeout.
type CircuitBreaker struct {
	name            string
	maxFailures     int
	resetTimeout    time.Duration
	state           CircuitBreakerState
	failures        int
	lastFailureTime time.Time
	nextAttemptTime time.Time
	now             func() time.Time
	mu              sync.Mutex
}

// ErrCircuitOpen is returned by Execute while the breaker is open.
var ErrCircuitOpen = stderrors.New("circuit breaker is open")

// NewService creates a service whose breakers open after two failures for
// ten minutes.
func NewService() *Service {
	return &Service{
		messageHandler:  &MessageHandler{},
		circuitBreakers: make(map[string]*CircuitBreaker),
		breakerConfig: CircuitBreakerConfig{
			MaxFailures:  2,
			ResetTimeout: 10 * time.Minute,
		},
	}
}

// WithVerbose enables technical error details
func (s *Service) WithVerbose(verbose bool) *Service {
	s.messageHandler.showTechnical = verbose
	return s
}

// WithCircuitBreakerConfig sets the configuration for breakers created
// afterwards.
func (s *Service) WithCircuitBreakerConfig(config CircuitBreakerConfig) *Service {
	if config.MaxFailures > 0 {
		s.breakerConfig.MaxFailures = config.MaxFailures
	}
	if config.ResetTimeout > 0 {
		s.breakerConfig.ResetTimeout = config.ResetTimeout
	}
	return s
}

// CircuitBreaker returns the breaker for name, creating it on first use.
func (s *Service) CircuitBreaker(name string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.circuitBreakers[name]; ok {
		return cb
	}
	cb := &CircuitBreaker{
		name:         name,
		maxFailures:  s.breakerConfig.MaxFailures,
		resetTimeout: s.breakerConfig.ResetTimeout,
		state:        CircuitClosed,
		now:          time.Now,
	}
	s.circuitBreakers[name] = cb
	return cb
}

// Execute runs operation unless the breaker for name is open. Only errors
// for which tripping reports true count as failures.
func (s *Service) Execute(ctx context.Context, name string, tripping func(error) bool, operation func(context.Context) error) error {
	cb := s.CircuitBreaker(name)
	if !cb.CanExecute() {
		return fmt.Errorf("%s: %w", name, ErrCircuitOpen)
	}

	err := operation(ctx)
	if err != nil && tripping(err) {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}
	return err
}

// GetUserFriendlyError converts technical errors to user-friendly messages
func (s *Service) GetUserFriendlyError(err error) (title, message string, suggestions []string) {
	if err == nil {
		return "", "", nil
	}

	switch {
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return "Canceled",
			"The fetch was interrupted before it finished.",
			nil

	case is(err, utils.ErrCodeDetectionBlocked):
		return "Blocked by the Remote Service",
			"The service showed its denial page twice. It is refusing this client for now.",
			[]string{
				"Wait at least an hour before trying again",
				"Switch the secondary pool to a different proxy mode",
				"Use the primary pool for this URL with --primary",
			}

	case is(err, utils.ErrCodeMaxTries):
		return "Could Not Fetch the Page",
			"Every proxy in both pools failed for this URL.",
			[]string{
				"Run 'scholarnav check-proxy' to see which backends work",
				"Increase max_retries or request_timeout in the configuration",
				"Check the paid API quota",
			}

	case is(err, utils.ErrCodeBrowserFailed):
		return "Browser Unavailable",
			"A CAPTCHA needs solving but no browser could be started.",
			[]string{
				"Install Chrome or Chromium",
				"Set captcha.exec_path to the browser binary",
				"Disable headless mode so the CAPTCHA can be solved by hand",
			}

	case is(err, utils.ErrCodeAuthFailed):
		return "Proxy Rejected Credentials",
			"The proxy answered 401 to the connectivity check.",
			[]string{
				"Check the user name and password in the proxy URL",
				"Check the paid API key",
			}

	case is(err, utils.ErrCodeProxyFailed):
		return "Proxy Unusable",
			"The configured proxy did not pass the connectivity check.",
			[]string{
				"Verify the proxy address and port",
				"Check that the proxy is running and reachable",
			}

	case is(err, utils.ErrCodeConfigSyntax):
		return "Configuration Error",
			"The configuration file has invalid YAML syntax.",
			[]string{
				"Check YAML indentation (use spaces, not tabs)",
				"Ensure proper quoting of string values",
			}

	case is(err, utils.ErrCodeMissingConfig), is(err, utils.ErrCodeInvalidConfig):
		return "Configuration Error",
			utils.GetUserFriendlyMessage(err),
			[]string{
				"Review the configuration file against the example in the README",
				"Check that referenced environment variables are set",
			}

	case is(err, utils.ErrCodeNetworkTimeout), is(err, utils.ErrCodeNetworkFailed):
		return "Network Error",
			"The request could not be completed.",
			[]string{
				"Check your internet connection",
				"Increase request_timeout in the configuration",
			}
	}

	if strings.Contains(strings.ToLower(err.Error()), "yaml") {
		return "Configuration Error", "The configuration could not be parsed.", nil
	}

	return "Unexpected Error",
		"An unexpected error occurred during the operation.",
		[]string{
			"Try running the command again",
			"Run with --verbose for technical details",
		}
}

// GetExitCode returns appropriate exit code for error
func (s *Service) GetExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return ExitCanceled
	case is(err, utils.ErrCodeDetectionBlocked):
		return ExitHardBlock
	case is(err, utils.ErrCodeMaxTries):
		return ExitExhausted
	case is(err, utils.ErrCodeBrowserFailed):
		return ExitBrowser
	case is(err, utils.ErrCodeAuthFailed):
		return ExitAuth
	case is(err, utils.ErrCodeProxyFailed):
		return ExitProxy
	case utils.IsConfigurationError(err):
		return ExitConfiguration
	default:
		return ExitGeneral
	}
}

// FormatErrorForCLI formats error for command-line display
func (s *Service) FormatErrorForCLI(err error) string {
	title, message, suggestions := s.GetUserFriendlyError(err)

	var b strings.Builder
	fmt.Fprintf(&b, "Error: %s\n%s\n", title, message)

	if s.messageHandler.showTechnical {
		fmt.Fprintf(&b, "\nTechnical details: %s\n", err.Error())
		var se *utils.StructuredError
		if stderrors.As(err, &se) {
			for _, key := range []string{"url", "pool", "tries", "last_reason", "last_status"} {
				if v := se.ContextValue(key); v != nil {
					fmt.Fprintf(&b, "  %s: %v\n", key, v)
				}
			}
		}
	}

	if len(suggestions) > 0 {
		b.WriteString("\nSuggestions:\n")
		for _, suggestion := range suggestions {
			fmt.Fprintf(&b, "  - %s\n", suggestion)
		}
	}

	return b.String()
}

// is walks the whole chain for a structured error with code.
func is(err error, code utils.ErrorCode) bool {
	return stderrors.Is(err, &utils.StructuredError{Code: code})
}

// CircuitBreaker methods

// CanExecute checks if circuit breaker allows execution
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().After(cb.nextAttemptTime) {
			cb.state = CircuitHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a failure and opens the breaker at the threshold.
// A failed half-open probe reopens it at once.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = cb.now()
	if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
		cb.state = CircuitOpen
		cb.nextAttemptTime = cb.lastFailureTime.Add(cb.resetTimeout)
	}
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats returns a snapshot for the health endpoint.
func (cb *CircuitBreaker) GetStats() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	stats := map[string]interface{}{
		"name":     cb.name,
		"state":    cb.state.String(),
		"failures": cb.failures,
	}
	if cb.state == CircuitOpen {
		stats["retry_after"] = cb.nextAttemptTime.Format(time.RFC3339)
	}
	return stats
}
