package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Local id prefixes.
const (
	PrefixOffline = "offline"
	PrefixTemp    = "temp"
)

// NewLocalID returns a locally generated id: <prefix>-<unix millis>-<8 hex>.
func NewLocalID(prefix string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", prefix, now.UnixMilli(), suffix)
}

// IsLocalID reports whether id was generated on this device and has not yet
// been replaced by a server id.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, PrefixOffline+"-") || strings.HasPrefix(id, PrefixTemp+"-")
}
