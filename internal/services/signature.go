package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const githubSignaturePrefix = "sha256="

// ErrSlackSignatureMismatch is returned when a Slack request signature does
// not match the computed digest.
var ErrSlackSignatureMismatch = errors.New("slack signature mismatch")

// VerifyGitHubSignature checks an X-Hub-Signature-256 value against the raw
// request body. Comparison is constant-time; a malformed or truncated
// signature is a verification failure, never an error.
func VerifyGitHubSignature(body []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	expected := githubSignaturePrefix + computeHMAC256(body, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}

func computeHMAC256(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// SlackVerifier validates Slack request signatures. Slack signs
// "v0:{timestamp}:{body}" with the app signing secret; requests whose
// timestamp is older than maxAge are rejected before the signature is even
// considered, to block replays of captured requests.
type SlackVerifier struct {
	signingSecret string
	maxAge        time.Duration
	now           func() time.Time
}

// NewSlackVerifier creates a SlackVerifier with the given signing secret and
// maximum timestamp age.
func NewSlackVerifier(signingSecret string, maxAge time.Duration) *SlackVerifier {
	return &SlackVerifier{
		signingSecret: signingSecret,
		maxAge:        maxAge,
		now:           time.Now,
	}
}

// Verify checks the X-Slack-Signature header value against the request body
// and X-Slack-Request-Timestamp value.
func (v *SlackVerifier) Verify(body []byte, timestamp, signature string) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid slack request timestamp %q: %w", timestamp, err)
	}

	age := v.now().Sub(time.Unix(ts, 0))
	if age > v.maxAge || age < -v.maxAge {
		return fmt.Errorf("slack request timestamp outside allowed window: %s", age)
	}

	base := fmt.Sprintf("v0:%s:%s", timestamp, body)
	expected := "v0=" + computeHMAC256([]byte(base), v.signingSecret)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrSlackSignatureMismatch
	}
	return nil
}
