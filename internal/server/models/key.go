package models

import "time"

// UnlimitedActivations is the sentinel value for keys that can be redeemed
// any number of times. The remaining counter is never decremented for them.
const UnlimitedActivations = -1

// Key is one issued license token. Keys are never deleted; exhausted or
// withdrawn keys stay in the ledger with Active=false so the audit trail
// remains resolvable.
type Key struct {
	ID int64
	// Token is the opaque activation string handed to the customer.
	Token string
	// RemainingActivations counts down to zero on successful activations.
	// UnlimitedActivations disables the accounting.
	RemainingActivations int
	// AppID identifies the product the key was cut for.
	AppID int64
	// Active gates all activations regardless of the remaining count.
	Active bool
	// HWID is bound on the first successful activation and pins the key
	// to one device. Empty means not yet bound.
	HWID string
	// Memo is free-text operator annotation from issuance time.
	Memo    string
	CutDate time.Time
}

// Unlimited reports whether activation accounting is disabled for the key.
func (k *Key) Unlimited() bool {
	return k.RemainingActivations == UnlimitedActivations
}
