package errx

import "fmt"

// Format error reasons.
const (
	ReasonInvalidOption   = "invalid_option"
	ReasonTypeMismatch    = "type_mismatch"
	ReasonNotSerializable = "not_serializable"
	ReasonMissingOptions  = "missing_options"
	ReasonUnknownType     = "unknown_type"
)

// FormatError reports a variable value that does not satisfy its declared
// format. It is recovered locally: the variable stays unbound.
type FormatError struct {
	VariableID string
	Reason     string
	Detail     string
}

func (e *FormatError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("variable %q: %s", e.VariableID, e.Reason)
	}
	return fmt.Sprintf("variable %q: %s: %s", e.VariableID, e.Reason, e.Detail)
}

// Unwrap lets errors.Is(err, ErrFormat) match.
func (e *FormatError) Unwrap() error {
	return ErrFormat
}

// NodeExecutionError records why a single node failed. The turn continues.
type NodeExecutionError struct {
	NodeID string
	Reason string
	// Status is the upstream HTTP status for api_request nodes, 0 otherwise.
	Status int
	Err    error
}

func (e *NodeExecutionError) Error() string {
	msg := fmt.Sprintf("node %q: %s", e.NodeID, e.Reason)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *NodeExecutionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrNodeExecution}
	}
	return []error{ErrNodeExecution, e.Err}
}
