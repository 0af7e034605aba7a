package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error types for better error classification and handling

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeNotAvailable        ErrorType = "not_available"
	ErrorTypePermission          ErrorType = "permission"
	ErrorTypeValidation          ErrorType = "validation"
	ErrorTypeConflict            ErrorType = "conflict"
	ErrorTypeProcessNotFound     ErrorType = "process_not_found"
	ErrorTypeProcessNameNotFound ErrorType = "process_name_not_found"
	ErrorTypeCgroup              ErrorType = "cgroup"
	ErrorTypeProcess             ErrorType = "process"
	ErrorTypeConfig              ErrorType = "config"
	ErrorTypeIO                  ErrorType = "io"
	ErrorTypeInternal            ErrorType = "internal"
)

// Remediation hints shown verbatim by callers.
const (
	HintMemoryFormat = "use format like '512M', '2G', or '1024' (bytes)"
	HintCPUFormat    = "use percentage like '50%' or '150%' (for 1.5 cores)"
	HintDelegation   = "run as root, or enable cgroup delegation:\n" +
		"  sudo mkdir -p /etc/systemd/system/user@.service.d\n" +
		"  printf '[Service]\\nDelegate=cpu memory io\\n' | sudo tee /etc/systemd/system/user@.service.d/delegate.conf\n" +
		"  sudo systemctl daemon-reload && logout"
	HintCgroupsV2 = "ensure your kernel supports cgroups v2 (Linux 4.5+) and the unified hierarchy is mounted"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Hint    string
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	if e.Hint != "" {
		b.WriteString("\n  hint: ")
		b.WriteString(e.Hint)
	}
	return b.String()
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithHint attaches a remediation hint rendered after the message
func (e *DomainError) WithHint(hint string) *DomainError {
	e.Hint = hint
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewNotAvailableError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotAvailable, message, cause)
}

// NewPermissionError reports a permission failure scoped to path.
func NewPermissionError(path string, cause error) *DomainError {
	return NewDomainError(ErrorTypePermission, "permission denied: "+path, cause).
		WithContext("path", path).
		WithHint(HintDelegation)
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

func NewProcessNotFoundError(pid int) *DomainError {
	return NewDomainError(ErrorTypeProcessNotFound,
		fmt.Sprintf("process with pid %d not found (process may have exited)", pid), nil).
		WithContext("pid", pid)
}

func NewProcessNameNotFoundError(name string) *DomainError {
	return NewDomainError(ErrorTypeProcessNameNotFound,
		fmt.Sprintf("no process found matching '%s'", name), nil).
		WithContext("name", name).
		WithHint(fmt.Sprintf("check process name with `ps aux | grep %s`", name))
}

// NewCgroupError names the attempted action, e.g. "set memory.max".
func NewCgroupError(action string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCgroup, "cgroup operation failed: "+action, cause).
		WithContext("action", action)
}

func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

func NewConfigError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConfig, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func isType(err error, t ErrorType) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == t
}

// Error checking helpers
func IsNotAvailableError(err error) bool        { return isType(err, ErrorTypeNotAvailable) }
func IsPermissionError(err error) bool          { return isType(err, ErrorTypePermission) }
func IsValidationError(err error) bool          { return isType(err, ErrorTypeValidation) }
func IsConflictError(err error) bool            { return isType(err, ErrorTypeConflict) }
func IsProcessNotFoundError(err error) bool     { return isType(err, ErrorTypeProcessNotFound) }
func IsProcessNameNotFoundError(err error) bool { return isType(err, ErrorTypeProcessNameNotFound) }
func IsCgroupError(err error) bool              { return isType(err, ErrorTypeCgroup) }
func IsProcessError(err error) bool             { return isType(err, ErrorTypeProcess) }
func IsConfigError(err error) bool              { return isType(err, ErrorTypeConfig) }
func IsIOError(err error) bool                  { return isType(err, ErrorTypeIO) }

// IsInvalidArgument covers every caller-input failure: malformed values,
// bad cgroup names and ownership conflicts.
func IsInvalidArgument(err error) bool {
	return IsValidationError(err) || IsConflictError(err)
}

// Error aggregation for best-effort operations
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(e.Errors), e.Errors[0])
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// NewErrorCollection creates a new error collection
func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}
