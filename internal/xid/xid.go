package xid

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// New returns a lexically sortable id such as "ord-01hx3...".
func New(prefix string) string {
	return prefix + "-" + strings.ToLower(ulid.Make().String())
}
