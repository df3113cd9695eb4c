// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

type (
	// ActionableError pairs a failure with the step that failed, the file or
	// URL involved and the next things the user can try.
	//
	//	err := issue.NewErrorContext().
	//		WithOperation("verify the download").
	//		WithResource("/cache/postmir_42.apk").
	//		WithSuggestions("Run 'postmir-update download --force' to fetch it again").
	//		Wrap(cause).
	//		BuildError()
	ActionableError struct {
		// Operation is a verb phrase such as "check for updates".
		Operation string
		// Resource is the file or URL involved, if any.
		Resource string
		// Suggestions are printed as a bullet list under the message.
		Suggestions []string
		// Cause is the underlying error.
		Cause error
	}

	// ErrorContext accumulates the fields of an ActionableError.
	ErrorContext struct {
		err ActionableError
	}
)

// NewErrorContext starts an empty builder.
func NewErrorContext() *ErrorContext {
	return &ErrorContext{}
}

// WithOperation sets the failed step.
func (c *ErrorContext) WithOperation(op string) *ErrorContext {
	c.err.Operation = op
	return c
}

// WithResource sets the file or URL the step worked on.
func (c *ErrorContext) WithResource(res string) *ErrorContext {
	c.err.Resource = res
	return c
}

// WithSuggestion appends one suggestion.
func (c *ErrorContext) WithSuggestion(sug string) *ErrorContext {
	return c.WithSuggestions(sug)
}

// WithSuggestions appends suggestions, skipping blanks and repeats.
func (c *ErrorContext) WithSuggestions(sugs ...string) *ErrorContext {
	for _, s := range sugs {
		s = strings.TrimSpace(s)
		if s == "" || slices.Contains(c.err.Suggestions, s) {
			continue
		}
		c.err.Suggestions = append(c.err.Suggestions, s)
	}
	return c
}

// Wrap sets the underlying cause.
func (c *ErrorContext) Wrap(err error) *ErrorContext {
	c.err.Cause = err
	return c
}

// Build returns the error, or nil when no operation was set.
func (c *ErrorContext) Build() *ActionableError {
	if c.err.Operation == "" {
		return nil
	}
	ae := c.err
	ae.Suggestions = slices.Clone(c.err.Suggestions)
	return &ae
}

// BuildError is Build returning a plain error, so a missing operation
// yields an untyped nil rather than a typed one.
func (c *ErrorContext) BuildError() error {
	if ae := c.Build(); ae != nil {
		return ae
	}
	return nil
}

// Error returns "failed to <operation>: <resource>: <cause>", leaving out
// whatever is empty.
func (e *ActionableError) Error() string {
	parts := []string{"failed to " + e.Operation}
	if e.Resource != "" {
		parts = append(parts, e.Resource)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap returns the cause.
func (e *ActionableError) Unwrap() error {
	return e.Cause
}

// Format renders the message with its suggestions. Verbose output also lists
// every error in the cause tree, including each branch of a joined error.
func (e *ActionableError) Format(verbose bool) string {
	var b strings.Builder
	b.WriteString(e.Error())

	if len(e.Suggestions) > 0 {
		b.WriteString("\n")
		for _, s := range e.Suggestions {
			b.WriteString("\n  • " + s)
		}
	}

	if verbose && e.Cause != nil {
		b.WriteString("\n\nError chain:")
		for i, msg := range causeChain(e.Cause) {
			fmt.Fprintf(&b, "\n  %d. %s", i+1, msg)
		}
	}
	return b.String()
}

// causeChain walks err depth first and returns each error's message.
func causeChain(err error) []string {
	var msgs []string
	stack := []error{err}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == nil {
			continue
		}
		msgs = append(msgs, cur.Error())

		switch u := cur.(type) {
		case interface{ Unwrap() []error }:
			children := u.Unwrap()
			for i := len(children) - 1; i >= 0; i-- {
				stack = append(stack, children[i])
			}
		default:
			if next := errors.Unwrap(cur); next != nil {
				stack = append(stack, next)
			}
		}
	}
	return msgs
}
