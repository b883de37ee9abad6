// Package wauth (Weak AUTHentication) prepares outgoing peer messages
// and opens incoming ones.
//
// A [MessageManager] wraps a payload in a [wenvelope.SignedData]
// naming the local endpoint identity.
// The [TrivialManager] only stamps the identity;
// the [CryptoManager] additionally signs the payload with an Ed25519 key
// and, when configured with a CA key, only accepts peers holding
// a certificate issued by that CA.
//
// Every rejection in [MessageManager.Open] is reported the same way,
// as a false ok value, so callers cannot learn which check failed.
package wauth
