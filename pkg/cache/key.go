package cache

import "strings"

// KeyPrefix namespaces catalog results in shared stores.
const KeyPrefix = "catalog:result:"

// StoreKey returns the shared-store key for a fingerprint.
//
// Example:
//
//	catalog:result:category:AV|menu:Televisores
func StoreKey(fingerprint string) string {
	return KeyPrefix + fingerprint
}

// FingerprintFromKey strips KeyPrefix. ok is false for foreign keys.
func FingerprintFromKey(key string) (fingerprint string, ok bool) {
	return strings.CutPrefix(key, KeyPrefix)
}
