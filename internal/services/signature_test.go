package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fixed vector from GitHub's webhook documentation.
const (
	githubVectorBody      = "Hello, World!"
	githubVectorSecret    = "It's a Secret to Everybody"
	githubVectorSignature = "sha256=757107ea0eb2509fc211221cce984b8a37570b6d7586c22c46f4379c8b043e17"
)

func TestVerifyGitHubSignature_KnownVector(t *testing.T) {
	mac := hmac.New(sha256.New, []byte(githubVectorSecret))
	mac.Write([]byte(githubVectorBody))
	computed := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	require.Equal(t, githubVectorSignature, computed)

	assert.True(t, VerifyGitHubSignature([]byte(githubVectorBody), githubVectorSignature, githubVectorSecret))
}

func TestVerifyGitHubSignature_Mutations(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		signature string
		secret    string
	}{
		{
			name:      "mutated body",
			body:      "Hello, World?",
			signature: githubVectorSignature,
			secret:    githubVectorSecret,
		},
		{
			name:      "mutated secret",
			body:      githubVectorBody,
			signature: githubVectorSignature,
			secret:    "It's a Secret to Everybody!",
		},
		{
			name:      "mutated signature bit",
			body:      githubVectorBody,
			signature: "sha256=757107ea0eb2509fc211221cce984b8a37570b6d7586c22c46f4379c8b043e16",
			secret:    githubVectorSecret,
		},
		{
			name:      "truncated signature",
			body:      githubVectorBody,
			signature: "sha256=757107",
			secret:    githubVectorSecret,
		},
		{
			name:      "empty signature",
			body:      githubVectorBody,
			signature: "",
			secret:    githubVectorSecret,
		},
		{
			name:      "empty secret",
			body:      githubVectorBody,
			signature: githubVectorSignature,
			secret:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, VerifyGitHubSignature([]byte(tt.body), tt.signature, tt.secret))
		})
	}
}

func signSlackRequest(secret string, ts int64, body []byte) string {
	base := fmt.Sprintf("v0:%d:%s", ts, body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func TestSlackVerifier_ValidRequest(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := NewSlackVerifier("slack-signing-secret", 5*time.Minute)
	v.now = func() time.Time { return now }

	body := []byte("payload=%7B%7D")
	ts := now.Unix() - 30
	sig := signSlackRequest("slack-signing-secret", ts, body)

	require.NoError(t, v.Verify(body, strconv.FormatInt(ts, 10), sig))
}

func TestSlackVerifier_StaleTimestampRejectedDespiteValidSignature(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := NewSlackVerifier("slack-signing-secret", 5*time.Minute)
	v.now = func() time.Time { return now }

	body := []byte("payload=%7B%7D")
	ts := now.Unix() - 301 // just past the 5 minute window
	sig := signSlackRequest("slack-signing-secret", ts, body)

	err := v.Verify(body, strconv.FormatInt(ts, 10), sig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timestamp")
}

func TestSlackVerifier_BadSignature(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := NewSlackVerifier("slack-signing-secret", 5*time.Minute)
	v.now = func() time.Time { return now }

	body := []byte("payload=%7B%7D")
	ts := now.Unix()
	sig := signSlackRequest("another-secret", ts, body)

	err := v.Verify(body, strconv.FormatInt(ts, 10), sig)
	require.ErrorIs(t, err, ErrSlackSignatureMismatch)
}

func TestSlackVerifier_MalformedTimestamp(t *testing.T) {
	v := NewSlackVerifier("slack-signing-secret", 5*time.Minute)
	err := v.Verify([]byte("body"), "not-a-number", "v0=deadbeef")
	require.Error(t, err)
}
