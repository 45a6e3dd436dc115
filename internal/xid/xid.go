package xid

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns a time-ordered id such as "shift-0192f7c4-...". Ids never
// contain a slash so they are safe as the last segment of a store path.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}
