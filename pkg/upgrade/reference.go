package upgrade

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatExternalReference builds "{prefix}_{userID}_{unixNanos}".
func FormatExternalReference(prefix, userID string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%d", prefix, userID, at.UnixNano())
}

// ParseExternalReference recovers the user id from an external reference.
// The prefix must match and may not itself contain an underscore. The
// timestamp is taken from the last underscore so user ids may contain
// underscores.
func ParseExternalReference(prefix, ref string) (string, error) {
	rest, ok := strings.CutPrefix(ref, prefix+"_")
	if !ok || prefix == "" {
		return "", fmt.Errorf("%w: external reference %q has no %q prefix", ErrValidation, ref, prefix)
	}
	idx := strings.LastIndexByte(rest, '_')
	if idx <= 0 || idx == len(rest)-1 {
		return "", fmt.Errorf("%w: malformed external reference %q", ErrValidation, ref)
	}
	if _, err := strconv.ParseInt(rest[idx+1:], 10, 64); err != nil {
		return "", fmt.Errorf("%w: external reference %q has a bad timestamp", ErrValidation, ref)
	}
	return rest[:idx], nil
}
