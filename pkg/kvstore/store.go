// Package kvstore defines the persistent key-value contract that underlies
// all Aura state: access records, onboarding profiles, chat transcripts, and
// archive indexes. It mirrors the semantics of browser-origin local storage:
// synchronous, unbounded lifetime, and last-write-wins under concurrent
// writers. No cross-writer ordering or mutual exclusion is provided — two
// processes sharing a backend can race, and the last write wins. This is an
// accepted limitation of the design, not something implementations should
// paper over.
//
// Every other component reads and writes exclusively through a [Store], each
// owning its own key namespace (see the Key* helpers). A component must never
// touch another component's keys directly.
package kvstore

import "fmt"

// Store is the minimal synchronous key-value contract. Implementations must
// be safe for concurrent use within a single process.
type Store interface {
	// Get returns the value stored under key and whether it was present.
	Get(key string) (string, bool)

	// Set stores value under key, overwriting any previous value.
	Set(key, value string) error

	// Remove deletes key. Removing an absent key is a no-op, not an error.
	Remove(key string) error
}

// KeyLastConnected is the singleton convenience pointer to the most recently
// connected wallet address. Presentation-only; core operations always take
// the address as an explicit parameter.
const KeyLastConnected = "lastConnectedAddress"

// AccessKey returns the key holding the access record for a wallet address.
func AccessKey(address string) string {
	return fmt.Sprintf("access:%s", address)
}

// OnboardingKey returns the key holding the onboarding record for a wallet
// address.
func OnboardingKey(address string) string {
	return fmt.Sprintf("onboarding:%s", address)
}

// TranscriptKey returns the key holding the conversation transcript for a
// wallet address and companion pair.
func TranscriptKey(address, companionID string) string {
	return fmt.Sprintf("transcript:%s:%s", address, companionID)
}

// ArchiveKey returns the key holding the exported-transcript index for a
// wallet address.
func ArchiveKey(address string) string {
	return fmt.Sprintf("archive:%s", address)
}

// MoodKey returns the key holding the mood journal for a wallet address.
func MoodKey(address string) string {
	return fmt.Sprintf("mood:%s", address)
}
