package audio

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Call types derived from PBX recording names.
const (
	CallTypeInbound  = "inbound"
	CallTypeOutbound = "outbound"
	CallTypeUnknown  = "unknown"
)

// pbxName matches recordings exported by the PBX, e.g.
// 2024-05-01_[10_00_00]_998901234567_101.mp3
var pbxName = regexp.MustCompile(`\d{4}-\d{2}-\d{2}_\[\d{2}_\d{2}_\d{2}\]_\d+_\d+`)

// IsPBXName reports whether title follows the PBX export naming scheme.
func IsPBXName(title string) bool {
	return pbxName.MatchString(title)
}

// trailingNumbers returns the last two underscore-separated parts of the base
// name with the extension removed.
func trailingNumbers(title string) (last, prev string, ok bool) {
	base := filepath.Base(title)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	parts := strings.Split(base, "_")
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[len(parts)-1], parts[len(parts)-2], true
}

// CallMeta is the call metadata encoded in a PBX recording name.
type CallMeta struct {
	OperatorCode string
	CallType     string
	ClientPhone  string
}

// ParseCallMeta extracts operator code, call direction and client number.
// Operator codes are three digits; the other number is the client.
func ParseCallMeta(title string) CallMeta {
	last, prev, ok := trailingNumbers(title)
	if !ok {
		return CallMeta{CallType: CallTypeUnknown}
	}
	switch {
	case len(last) == 3:
		return CallMeta{OperatorCode: last, CallType: CallTypeInbound, ClientPhone: prev}
	case len(prev) == 3:
		return CallMeta{OperatorCode: prev, CallType: CallTypeOutbound, ClientPhone: last}
	default:
		return CallMeta{CallType: CallTypeUnknown}
	}
}

// SpeakerRoles returns the diarization speaker ids of the customer and the
// operator. The customer is speaker 0 when the shorter trailing part (the
// operator code) comes last.
func SpeakerRoles(title string) (customer, operator int) {
	last, prev, ok := trailingNumbers(title)
	if !ok {
		return 0, 1
	}
	if len(last) < len(prev) {
		return 0, 1
	}
	return 1, 0
}

// ClientChannel is the stereo channel carrying the counter-party. Outbound
// recordings put the operator on channel 0.
func ClientChannel(title string) int {
	_, prev, ok := trailingNumbers(title)
	if ok && len(prev) == 3 && isDigits(prev) {
		return 1
	}
	return 0
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
