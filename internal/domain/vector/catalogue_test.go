package vector

import (
	"testing"

	"github.com/striptls-gate/striptls-gate/internal/domain/detect"
)

func TestAll_CatalogueCounts(t *testing.T) {
	counts := map[detect.Protocol]int{}
	for _, v := range All() {
		counts[v.Protocol()]++
	}

	want := map[detect.Protocol]int{
		detect.SMTP: 8,
		detect.POP3: 3,
		detect.IMAP: 3,
		detect.FTP:  3,
		detect.NNTP: 3,
		detect.XMPP: 3,
		detect.ACAP: 3,
		detect.IRC:  6,
	}

	for proto, wantCount := range want {
		if counts[proto] != wantCount {
			t.Errorf("protocol %v has %d vectors, want %d", proto, counts[proto], wantCount)
		}
	}
}

func TestByFullName_NoCollisions(t *testing.T) {
	all := All()
	byName := ByFullName()
	if len(byName) != len(all) {
		t.Errorf("ByFullName() has %d entries, want %d (a FullName collision dropped one)", len(byName), len(all))
	}
}

func TestFullName_Format(t *testing.T) {
	v := smtpStripFromCapabilities{}
	if got, want := FullName(v), "SMTP.StripFromCapabilities"; got != want {
		t.Errorf("FullName() = %q, want %q", got, want)
	}
}
