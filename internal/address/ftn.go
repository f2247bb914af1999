package address

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var ftnPattern = regexp.MustCompile(`^(\d+):(\d+)/(\d+)(?:\.(\d+))?$`)

// FTNAddress is a parsed Zone:Net/Node.Point address.
type FTNAddress struct {
	Zone  int
	Net   int
	Node  int
	Point int
}

// ParseFTN parses "Z:N/N" or "Z:N/N.P".
func ParseFTN(addr string) (FTNAddress, error) {
	addr = strings.TrimSpace(addr)
	m := ftnPattern.FindStringSubmatch(addr)
	if m == nil {
		return FTNAddress{}, fmt.Errorf("address: invalid FTN address: %q", addr)
	}

	var a FTNAddress
	var err error
	if a.Zone, err = strconv.Atoi(m[1]); err != nil {
		return FTNAddress{}, fmt.Errorf("address: invalid zone: %s", m[1])
	}
	if a.Net, err = strconv.Atoi(m[2]); err != nil {
		return FTNAddress{}, fmt.Errorf("address: invalid net: %s", m[2])
	}
	if a.Node, err = strconv.Atoi(m[3]); err != nil {
		return FTNAddress{}, fmt.Errorf("address: invalid node: %s", m[3])
	}
	if m[4] != "" {
		if a.Point, err = strconv.Atoi(m[4]); err != nil {
			return FTNAddress{}, fmt.Errorf("address: invalid point: %s", m[4])
		}
	}
	if a.Zone == 0 {
		return FTNAddress{}, fmt.Errorf("address: zone 0 in %q", addr)
	}
	return a, nil
}

// IsFTN reports whether s is a well-formed FTN address.
func IsFTN(s string) bool {
	_, err := ParseFTN(s)
	return err == nil
}

// String returns the 4D address, omitting a zero point.
func (a FTNAddress) String() string {
	if a.Point == 0 {
		return fmt.Sprintf("%d:%d/%d", a.Zone, a.Net, a.Node)
	}
	return fmt.Sprintf("%d:%d/%d.%d", a.Zone, a.Net, a.Node, a.Point)
}
