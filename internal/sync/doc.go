// Package sync reconciles the local contact store with the remote contact source.
//
// A Reconciler turns one full pull of the remote source into local storage
// mutations. Pages are consumed strictly in the order the source returns them
// and each page is applied in its own transaction, so a failed pull keeps the
// pages applied before the failure. Records missing from a pull are
// soft-deleted only once the last page was applied: a truncated pull never
// deletes anything. Running the same pull twice is a no-op the second time.
//
// Every failure is returned as an *Error whose Kind tells an operator what to
// do about it (wait, re-authenticate, check local storage). Scheduling,
// the single-flight guard and state transitions live in the coordinator
// subpackage; the persisted state machine lives in the state subpackage.
package sync
