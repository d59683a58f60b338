// Package expiry holds the expiry rule and the owned background loop shared by
// every expiring store in this module.
package expiry

import "time"

// Passed reports whether deadline has been reached at now. An entry whose
// deadline has passed must never be served.
func Passed(deadline time.Time, now time.Time) bool {
	return !now.Before(deadline)
}
