package service

import (
	"sort"

	"github.com/visabuddy/companion/pkg/models"
)

// mergeMessages reconciles a freshly fetched server message list with the
// locally held one.
//
// Rules:
//   - settled local entries (status sent) are superseded by the server list
//   - pending local entries (sending or error) are kept unless the server
//     list already contains their id
//   - the union is deduplicated by id, preferring the entry with the later
//     CreatedAt on conflict, and sorted ascending by CreatedAt
//
// A plain "replace with server data" would erase in-flight optimistic sends;
// a plain "append without merge" would duplicate messages the server already
// persisted. Matching is by id only: a pending message the server stored
// under a different id (e.g. a retry after a timeout whose original request
// succeeded) shows up twice. Known limitation.
func mergeMessages(local, fetched []models.Message) []models.Message {
	fetchedIDs := make(map[string]struct{}, len(fetched))
	for i := range fetched {
		fetchedIDs[fetched[i].ID] = struct{}{}
	}

	merged := make([]models.Message, 0, len(fetched)+len(local))
	byID := make(map[string]int, len(fetched)+len(local))
	add := func(m models.Message) {
		if idx, ok := byID[m.ID]; ok {
			if m.CreatedAt.After(merged[idx].CreatedAt) {
				merged[idx] = m
			}
			return
		}
		byID[m.ID] = len(merged)
		merged = append(merged, m)
	}

	for _, m := range fetched {
		add(m)
	}
	for _, m := range local {
		if m.Settled() {
			continue
		}
		if _, ok := fetchedIDs[m.ID]; ok {
			continue
		}
		add(m)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Before(&merged[j])
	})
	return merged
}
