// Package events defines the appliance events emitted on the event bus.
//
// Available event types:
//   - CardDetected: a valid identifier was read
//   - AuthResult: authentication outcome for an identifier
//   - DispenseStarted: actuation is about to begin
//   - DispenseItemResult: per-order actuation outcome
//   - DispenseCompleted: handling finished with at least one item dispensed
//   - AlreadyTaken: the daily dose was already dispensed for this user
//   - NoOrdersDue: authentication succeeded but nothing is due
//   - LowStock: the server flagged medicines as running out
//   - ConnectionError: a server exchange failed permanently
package events
