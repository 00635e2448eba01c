package transfer

import (
	"errors"
	"fmt"
	"strings"
)

// Step names the transfer step an error originated from.
type Step string

const (
	StepDirectURL Step = "request upload url"
	StepInitiate  Step = "initiate multipart upload"
	StepPartURL   Step = "request part url"
	StepRead      Step = "read file"
	StepUpload    Step = "upload"
	StepComplete  Step = "complete multipart upload"
)

var errMissingETag = errors.New("no ETag in response")

// HTTPError is a non-2xx response from the upload URL service or the object store.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// NegotiationError means the upload URL service refused or failed to issue a
// URL or session.
type NegotiationError struct {
	Step Step
	// Part is the 1-based part index, 0 when the step is not part scoped.
	Part int
	Err  error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("%s: %s", stepLabel(e.Step, e.Part), e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

// TransferError is a failed byte transfer: a network failure, a non-2xx
// response, a missing ETag or an aborted request.
type TransferError struct {
	Step    Step
	Part    int
	Aborted bool
	Err     error
}

func (e *TransferError) Error() string {
	label := stepLabel(e.Step, e.Part)
	if e.Aborted {
		return fmt.Sprintf("%s aborted: %s", label, e.Err)
	}
	return fmt.Sprintf("%s: %s", label, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// IntegrityError is returned instead of completing a multipart upload whose
// parts are not all confirmed.
type IntegrityError struct {
	Planned   int
	Confirmed int
	Missing   []int
}

func (e *IntegrityError) Error() string {
	missing := make([]string, 0, len(e.Missing))
	for _, idx := range e.Missing {
		missing = append(missing, fmt.Sprint(idx))
	}
	return fmt.Sprintf("incomplete parts: %d of %d parts confirmed (missing: %s)",
		e.Confirmed, e.Planned, strings.Join(missing, ", "))
}

func stepLabel(step Step, part int) string {
	if part > 0 {
		return fmt.Sprintf("part %d: %s", part, step)
	}
	return string(step)
}
