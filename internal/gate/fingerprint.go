package gate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/dukerupert/dayboard/internal/model"
)

// Fingerprint summarizes everything a capability check depends on. Two
// access records with the same fingerprint resolve every key the same way.
func Fingerprint(a *model.Access) string {
	if a == nil {
		return "anonymous"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "u=%d;r=%s;a=%t;", a.UserID, a.Role, a.IsActive)
	if a.HouseholdID != nil {
		fmt.Fprintf(&b, "h=%d;m=%t;", *a.HouseholdID, a.HouseholdMissing)
	}
	writeOverrides(&b, "uo", a.UserOverrides)
	writeOverrides(&b, "ho", a.HouseholdOverrides)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

func writeOverrides(b *strings.Builder, prefix string, m map[string]bool) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "%s:%s=%t;", prefix, k, m[k])
	}
}
