// Package catchall probes a domain with improbable, never-assigned
// local-parts to tell a domain that accepts everything apart from one
// that genuinely validates individual mailboxes. It is grounded on the
// other_examples mail_sorter SMTPVerifier.detectCatchAll: probe a small
// number of random addresses against the domain's MX and call it
// catch-all once most of them come back accepted.
package catchall

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ignite/leadprobe/internal/domain"
	"github.com/ignite/leadprobe/internal/smtpprobe"
)

// Prober is the subset of smtpprobe.Prober the detector needs, so tests
// can substitute a fake without dialing real sockets.
type Prober interface {
	Probe(email, mxHost string, identity smtpprobe.Identity, timeouts smtpprobe.Timeouts) smtpprobe.Result
}

// Detector runs the probe-and-classify algorithm.
type Detector struct {
	prober     Prober
	probeCount int
}

// New creates a Detector. probeCount controls how many random local-parts
// are tried; the teacher's reference implementation uses 2.
func New(prober Prober, probeCount int) *Detector {
	if probeCount < 1 {
		probeCount = 2
	}
	return &Detector{prober: prober, probeCount: probeCount}
}

// Detect probes chosenDomain at mxHost with probeCount random addresses
// and classifies the domain as catch-all once a majority of the probes
// are accepted. A single timeout/tempfail result does not flip the
// verdict to tempfail; it only does so once every probe fails that way.
func (d *Detector) Detect(ctx context.Context, chosenDomain, mxHost string, identity smtpprobe.Identity, timeouts smtpprobe.Timeouts) (domain.CatchAllStatus, string, int) {
	if mxHost == "" {
		return domain.CatchAllNoMX, "", 0
	}

	localpart, err := randomLocalpart()
	if err != nil {
		return domain.CatchAllError, "", 0
	}

	accepted := 0
	tempFails := 0
	lastCode := 0

	for i := 0; i < d.probeCount; i++ {
		select {
		case <-ctx.Done():
			return domain.CatchAllError, localpart, lastCode
		default:
		}

		probeEmail := fmt.Sprintf("%s%d@%s", localpart, i, chosenDomain)
		res := d.prober.Probe(probeEmail, mxHost, identity, timeouts)
		lastCode = res.Code

		switch res.Category {
		case smtpprobe.CategoryAccept:
			accepted++
		case smtpprobe.CategoryTempFail, smtpprobe.CategoryUnknown:
			tempFails++
		}
	}

	switch {
	case accepted*2 > d.probeCount:
		return domain.CatchAllYes, localpart, lastCode
	case tempFails == d.probeCount:
		return domain.CatchAllTemp, localpart, lastCode
	default:
		return domain.CatchAllNo, localpart, lastCode
	}
}

// randomLocalpart generates an unguessable, never-assigned local-part so
// a real mailbox never accidentally shares it.
func randomLocalpart() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "probe-" + hex.EncodeToString(buf) + "-", nil
}

// Stale reports whether a cached catch-all verdict has aged past ttl and
// should be re-probed.
func Stale(checkedAt *time.Time, ttl time.Duration) bool {
	if checkedAt == nil {
		return true
	}
	return time.Since(*checkedAt) > ttl
}
