// Package perrors defines the proxy's error taxonomy: a small set of typed
// errors, each carrying a stable Label used as a metric dimension and in
// structured log lines.
package perrors

import "errors"

// Kind is the stable classification string for one error variant.
type Kind string

const (
	KindInvalidJSON            Kind = "invalid_json"
	KindJSONCoParseError       Kind = "json_co_parse_error"
	KindNoMatchingPeer         Kind = "no_matching_peer"
	KindPrematureBodyEnd       Kind = "premature_body_end"
	KindFieldTooLong           Kind = "field_too_long"
	KindSSLError               Kind = "ssl_error"
	KindConnectionError        Kind = "connection_error"
	KindUpstreamConnectionFail Kind = "upstream_connection_failure"
	KindClientDisconnected     Kind = "client_disconnected_error"
	KindUntracked              Kind = "untracked_error"
)

// Error wraps an underlying cause with a stable Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

// Label returns the stable string used as a metric dimension.
func (e *Error) Label() string {
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with kind. err may be nil.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func InvalidJSON(err error) *Error      { return New(KindInvalidJSON, err) }
func JSONCoParseError(err error) *Error { return New(KindJSONCoParseError, err) }
func NoMatchingPeer() *Error            { return New(KindNoMatchingPeer, nil) }
func PrematureBodyEnd(err error) *Error { return New(KindPrematureBodyEnd, err) }
func FieldTooLong(summary string) *Error {
	return New(KindFieldTooLong, errors.New(summary))
}
func SSLError(err error) *Error               { return New(KindSSLError, err) }
func ConnectionError(err error) *Error        { return New(KindConnectionError, err) }
func UpstreamConnectionFailure(err error) *Error {
	return New(KindUpstreamConnectionFail, err)
}
func ClientDisconnected(err error) *Error { return New(KindClientDisconnected, err) }
func Untracked(err error) *Error          { return New(KindUntracked, err) }

// Label extracts the stable classification label from any error, returning
// KindUntracked for errors that were never wrapped as *Error.
func Label(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Label()
	}
	return string(KindUntracked)
}
