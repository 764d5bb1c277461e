package channels

import "strings"

// UpdateInfo is the platform-neutral projection of a raw platform update
// that filters are allowed to see. Adapters extract it before canonical
// conversion so rejected updates are never converted.
type UpdateInfo struct {
	// AuthorID is the platform-native author identifier, when present.
	AuthorID string
	// HasAuthor is false for authorless updates such as channel posts.
	HasAuthor bool
}

// Filter decides whether a raw update is admitted into canonical
// conversion. Returning false drops the update silently.
type Filter func(info UpdateInfo) bool

// Combine ANDs filters together; an empty combination admits everything.
func Combine(filters ...Filter) Filter {
	return func(info UpdateInfo) bool {
		for _, f := range filters {
			if f != nil && !f(info) {
				return false
			}
		}
		return true
	}
}

// UserAllowlist admits updates whose author id appears in ids. An empty
// allowlist admits everyone, and authorless updates are always admitted
// so lifecycle-ish platform events are not lost to user filtering.
func UserAllowlist(ids []string) Filter {
	allowed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			allowed[id] = struct{}{}
		}
	}
	return func(info UpdateInfo) bool {
		if len(allowed) == 0 {
			return true
		}
		if !info.HasAuthor {
			return true
		}
		_, ok := allowed[info.AuthorID]
		return ok
	}
}
