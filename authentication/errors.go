package authentication

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// Codes used when the provider did not send a usable error body
const (
	CodeNonJSONResponse = "authkit.non_json_response"
	CodeEmptyResponse   = "authkit.empty_response"
	CodeUnknown         = "authkit.unknown"
)

// Error is an error response from the authentication API
type Error struct {
	StatusCode  int
	Code        string
	Description string
	Info        map[string]any
}

func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authentication: %s: %s (HTTP %d)", e.Code, e.Description, e.StatusCode)
	}
	return fmt.Sprintf("authentication: %s (HTTP %d)", e.Code, e.StatusCode)
}

// IsInvalidGrant reports a rejected grant: an expired, revoked or unknown
// refresh token, a bad code, or wrong credentials
func (e *Error) IsInvalidGrant() bool {
	return e.Code == "invalid_grant"
}

// IsInvalidCredentials reports a wrong username or password
func (e *Error) IsInvalidCredentials() bool {
	return e.Code == "invalid_user_password" ||
		(e.Code == "invalid_grant" && e.Description == "Wrong email or password.")
}

// IsRefreshTokenDeleted reports a refresh token whose user no longer exists
func (e *Error) IsRefreshTokenDeleted() bool {
	return e.Code == "invalid_grant" &&
		e.Description == "The refresh_token was generated for a user who doesn't exist anymore."
}

// IsRateLimited reports throttling by the provider
func (e *Error) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.Code == "too_many_attempts" || e.Code == "too_many_requests"
}

// IsMultifactorRequired reports that the grant needs an MFA challenge
func (e *Error) IsMultifactorRequired() bool {
	return e.Code == "mfa_required" || e.Code == "a0.mfa_required"
}

// IsAccessDenied reports an access_denied response
func (e *Error) IsAccessDenied() bool {
	return e.Code == "access_denied"
}

// parseError builds an Error from a non-2xx response body
func parseError(status int, body []byte) *Error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return &Error{StatusCode: status, Code: CodeEmptyResponse, Description: "Empty response body"}
	}

	var info map[string]any
	if err := json.Unmarshal(body, &info); err != nil {
		return &Error{StatusCode: status, Code: CodeNonJSONResponse, Description: string(body)}
	}

	e := &Error{StatusCode: status, Code: CodeUnknown, Info: info}
	if code, ok := firstString(info, "error", "code"); ok {
		e.Code = code
	}
	if desc, ok := firstString(info, "error_description", "description"); ok {
		e.Description = desc
	}
	return e
}

// fromOAuth2 converts an x/oauth2 RetrieveError into an Error
func fromOAuth2(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return err
	}
	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}
	e := parseError(status, re.Body)
	if re.ErrorCode != "" {
		e.Code = re.ErrorCode
	}
	if re.ErrorDescription != "" {
		e.Description = re.ErrorDescription
	}
	return e
}

func firstString(info map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := info[k].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}
