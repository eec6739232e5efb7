package devtoken

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Params captures the claims required to mint an unsigned JWT for local and CI
// environments running with AUTH_PROVIDER=dev.
type Params struct {
	Issuer        string        // iss claim (required)
	TenantID      string        // tenant_id claim: canonical tenant ID or slug; empty mints a control-plane token
	UserID        string        // sub/user_id (required)
	Email         string        // email claim (required)
	Name          string        // display name
	EmailVerified bool          // email_verified claim
	IsAdmin       bool          // isAdmin custom claim for the tenant admin API
	ExpiresIn     time.Duration // relative expiry; default 1h if zero
	Audience      string        // optional; defaults to Issuer
}

// BuildUnsignedToken returns a JWT string with alg "none" and no signature.
func BuildUnsignedToken(p Params, now time.Time) (string, error) {
	if strings.TrimSpace(p.Issuer) == "" {
		return "", errors.New("issuer is required")
	}
	if strings.TrimSpace(p.UserID) == "" {
		return "", errors.New("userID is required")
	}
	if strings.TrimSpace(p.Email) == "" {
		return "", errors.New("email is required")
	}

	if now.IsZero() {
		now = time.Now().UTC()
	}

	expiresIn := p.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	audience := p.Audience
	if strings.TrimSpace(audience) == "" {
		audience = p.Issuer
	}

	payload := map[string]interface{}{
		"iss":            p.Issuer,
		"aud":            audience,
		"user_id":        p.UserID,
		"sub":            p.UserID,
		"iat":            now.Unix(),
		"exp":            now.Add(expiresIn).Unix(),
		"email":          p.Email,
		"email_verified": p.EmailVerified,
		"isAdmin":        p.IsAdmin,
	}
	if p.Name != "" {
		payload["name"] = p.Name
	}
	if tid := strings.TrimSpace(p.TenantID); tid != "" {
		payload["tenant_id"] = tid
	}

	header := map[string]interface{}{
		"alg": "none",
		"typ": "JWT",
	}

	headerSegment, err := encodeSegment(header)
	if err != nil {
		return "", err
	}

	payloadSegment, err := encodeSegment(payload)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s.%s", headerSegment, payloadSegment), nil
}

func encodeSegment(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
