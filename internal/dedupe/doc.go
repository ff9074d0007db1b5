// Package dedupe remembers recently handled keys for a bounded time so the
// same file or task is not processed twice.
package dedupe
