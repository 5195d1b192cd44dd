package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// slackReplayWindow bounds how stale a signed Slack request may be.
const slackReplayWindow = 5 * time.Minute

var errBadSignature = errors.New("signature mismatch")

func hmacHex(secret string, parts ...[]byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	for _, p := range parts {
		mac.Write(p)
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySlackSignature checks the v0 signing scheme: HMAC-SHA256 over
// "v0:<timestamp>:<body>", compared against the X-Slack-Signature
// header. Requests outside the replay window are rejected regardless
// of signature.
func verifySlackSignature(secret, signature, timestamp string, body []byte, now time.Time) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q", timestamp)
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > slackReplayWindow || age < -slackReplayWindow {
		return fmt.Errorf("request timestamp outside replay window")
	}

	base := fmt.Sprintf("v0:%s:", timestamp)
	want := "v0=" + hmacHex(secret, []byte(base), body)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return errBadSignature
	}
	return nil
}

// verifyGitHubSignature checks the X-Hub-Signature-256 header:
// "sha256=" plus the hex HMAC-SHA256 of the raw body.
func verifyGitHubSignature(secret, signature string, body []byte) error {
	want := "sha256=" + hmacHex(secret, body)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return errBadSignature
	}
	return nil
}

// verifyLinearSignature checks the Linear-Signature header: the hex
// HMAC-SHA256 of the raw body.
func verifyLinearSignature(secret, signature string, body []byte) error {
	want := hmacHex(secret, body)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return errBadSignature
	}
	return nil
}
