package types

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	UUID_PREFIX_SUBSCRIPTION      = "subs"
	UUID_PREFIX_INVOICE           = "inv"
	UUID_PREFIX_INVOICE_LINE_ITEM = "inv_line"
	UUID_PREFIX_COUPON            = "coupon"
	UUID_PREFIX_WEBHOOK_ENDPOINT  = "wh"
	UUID_PREFIX_WEBHOOK_EVENT     = "evt"
	UUID_PREFIX_LEDGER_ENTRY      = "ledger"
	UUID_PREFIX_PAYMENT           = "pay"
)

// GenerateUUID returns a lowercase ULID. ULIDs are lexicographically sortable
// by creation time, which gives webhook event ids their per-entity
// monotonicity for free.
func GenerateUUID() string {
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String())
}

// GenerateUUIDWithPrefix returns a prefixed ULID, e.g. "inv_01h2xcejq..."
func GenerateUUIDWithPrefix(prefix string) string {
	if prefix == "" {
		return GenerateUUID()
	}
	return fmt.Sprintf("%s_%s", prefix, GenerateUUID())
}
