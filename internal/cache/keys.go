package cache

import "fmt"

// MembershipKey is the cache key of the resolved membership of userID in orgID.
func MembershipKey(orgID, userID string) string {
	return fmt.Sprintf("membership:%s:%s", orgID, userID)
}
