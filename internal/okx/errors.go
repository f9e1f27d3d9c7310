package okx

import (
	"errors"
	"fmt"
)

// ErrAuth marks credential/signature failures. They are never retried.
var ErrAuth = errors.New("okx: authentication failed")

// APIError is a non-zero code returned by the venue, either for the whole
// request (Code/Msg) or for one order in it (SCode/SMsg).
type APIError struct {
	Op     string
	Status int
	Code   string
	Msg    string
	SCode  string
	SMsg   string
}

func (e *APIError) Error() string {
	if e.SCode != "" && e.SCode != "0" {
		return fmt.Sprintf("okx %s: sCode=%s sMsg=%s", e.Op, e.SCode, e.SMsg)
	}
	if e.Status != 0 {
		return fmt.Sprintf("okx %s: status %d code=%s msg=%s", e.Op, e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("okx %s: code=%s msg=%s", e.Op, e.Code, e.Msg)
}

// Is lets errors.Is(err, ErrAuth) match venue auth failures.
func (e *APIError) Is(target error) bool {
	return target == ErrAuth && e.auth()
}

func (e *APIError) auth() bool {
	if e.Status == 401 {
		return true
	}
	return authCodes[e.Code]
}

// Codes for key, passphrase, signature or timestamp header problems.
var authCodes = map[string]bool{
	"50101": true,
	"50103": true,
	"50104": true,
	"50105": true,
	"50111": true,
	"50112": true,
	"50113": true,
	"50114": true,
}

// Cancel/amend codes meaning the order is already filled, cancelled or unknown.
var goneCodes = map[string]bool{
	"51400": true,
	"51401": true,
	"51402": true,
	"51603": true,
}

// IsOrderGone reports whether err says the order no longer exists.
func IsOrderGone(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return goneCodes[apiErr.SCode] || goneCodes[apiErr.Code]
}

func IsAuth(err error) bool { return errors.Is(err, ErrAuth) }
