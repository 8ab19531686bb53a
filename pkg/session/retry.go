// Package session implements the per-vendor transports: Brocade telnet,
// Zyxel interactive SSH, OpenWrt SSH exec + SCP, and the Zyxel HTTPS CGI
// client. Each transport exposes command execution with vendor-specific
// prompt handling; retry policy lives here too.
package session

import (
	"context"
	"math/rand"
	"time"

	"github.com/switchcraft/switchcraft/pkg/util"
)

// RetryPolicy controls reconnection backoff. Connect and auth failures
// retry with exponential backoff; in-session command failures do not
// retry here — the executor decides.
type RetryPolicy struct {
	MaxAttempts int
	MinWait     time.Duration
	MaxWait     time.Duration
	Jitter      float64
}

// DefaultRetryPolicy is the connect/auth policy: 5 attempts, 2s..15s,
// ±10% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, MinWait: 2 * time.Second, MaxWait: 15 * time.Second, Jitter: 0.1}
}

func (p RetryPolicy) wait(attempt int) time.Duration {
	d := p.MinWait << uint(attempt)
	if d > p.MaxWait || d <= 0 {
		d = p.MaxWait
	}
	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d = time.Duration(float64(d) + (rand.Float64()*2-1)*spread)
	}
	return d
}

// Do runs fn with the retry policy, sleeping between attempts. The
// context cancels both the sleeps and further attempts.
func (p RetryPolicy) Do(ctx context.Context, what string, fn func() error) error {
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		wait := p.wait(attempt)
		util.Warnf("%s failed (attempt %d/%d), retrying in %s: %v", what, attempt+1, p.MaxAttempts, wait, err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return util.NewCommandError(util.KindCancelled, "", "", ctx.Err().Error())
		}
	}
	return &util.CommandError{Kind: util.KindTransport, Message: what + " failed: " + err.Error()}
}
