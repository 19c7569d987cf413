// claims.go defines the authenticated claim set carried inside the signed
// layer of a state envelope.
//
// The registered claims (iss/aud/sub/jti/iat/nbf/exp) follow RFC 7519; the
// remaining claims describe the workflow state being exchanged. The content
// claim carries the state payload as a JSON document encoded in a string -
// it is stored verbatim and never interpreted by the pipeline.
package crypto

import (
	"fmt"
	"time"
)

// Claims is the claim set carried inside the signed token.
type Claims struct {
	Issuer     string `json:"iss"`
	Audience   string `json:"aud"`
	Subject    string `json:"sub"`
	TokenID    string `json:"jti,omitempty"`
	IssuedAt   int64  `json:"iat"`
	NotBefore  int64  `json:"nbf"`
	Expiration int64  `json:"exp"`

	ID                string `json:"id"`
	Tenant            string `json:"tenant"`
	Parent            string `json:"parent"`
	Flow              string `json:"flow"`
	FlowVersion       string `json:"flowVersion"`
	IsDone            bool   `json:"isDone"`
	CurrentMapElement string `json:"currentMapElement"`
	CurrentUser       string `json:"currentUser"`
	CreatedAt         string `json:"createdAt"`
	UpdatedAt         string `json:"updatedAt"`
	Content           string `json:"content"`
}

// ValidateTemporal checks that now falls within the token's validity window
// [nbf, exp], allowing for the given clock skew tolerance on both bounds.
//
// Violations are reported as distinct token_expired / token_not_yet_valid
// errors so callers can tell a stale envelope from a clock problem.
func (c *Claims) ValidateTemporal(now time.Time, skew time.Duration) error {
	if c.Expiration == 0 {
		return NewValidationError("missing required claim: exp")
	}
	if c.NotBefore == 0 {
		return NewValidationError("missing required claim: nbf")
	}

	exp := time.Unix(c.Expiration, 0)
	nbf := time.Unix(c.NotBefore, 0)

	if now.After(exp.Add(skew)) {
		return NewTokenExpiredError(fmt.Sprintf("token expired at %s", exp.UTC().Format(time.RFC3339)))
	}
	if now.Before(nbf.Add(-skew)) {
		return NewTokenNotYetValidError(fmt.Sprintf("token not valid before %s", nbf.UTC().Format(time.RFC3339)))
	}

	// iat in the future (beyond skew) means the sender's clock is broken
	if c.IssuedAt != 0 {
		iat := time.Unix(c.IssuedAt, 0)
		if now.Before(iat.Add(-skew)) {
			return NewValidationError(fmt.Sprintf("token issued in the future (%s)", iat.UTC().Format(time.RFC3339)))
		}
	}

	return nil
}
