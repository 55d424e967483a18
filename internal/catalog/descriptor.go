// Package catalog turns the raw provider listings into the text-only model
// list shown to users: keyword filtering, TTL caching and concurrent refresh.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Dhanuzh/airefiner/internal/provider"
)

// ModelDescriptor identifies one usable model. Values are immutable once
// built; ID is unique within Provider.
type ModelDescriptor struct {
	Provider    provider.ID `json:"provider"`
	ID          string      `json:"id"`
	DisplayName string      `json:"display_name"`
}

// Key returns "provider/id".
func (d ModelDescriptor) Key() string {
	return string(d.Provider) + "/" + d.ID
}

func (d ModelDescriptor) String() string {
	if d.DisplayName != "" && d.DisplayName != d.ID {
		return fmt.Sprintf("%s (%s)", d.DisplayName, d.Key())
	}
	return d.Key()
}

// ParseKey splits "provider/model" or "provider:model".
func ParseKey(spec string) (provider.ID, string, error) {
	sep := strings.IndexAny(spec, ":/")
	if sep <= 0 || sep == len(spec)-1 {
		return "", "", fmt.Errorf("model must be given as provider/model, got %q", spec)
	}
	id, err := provider.ParseID(spec[:sep])
	if err != nil {
		return "", "", err
	}
	return id, spec[sep+1:], nil
}

// Lookup finds a model by provider and ID in a grouped listing.
func Lookup(models map[provider.ID][]ModelDescriptor, id provider.ID, modelID string) (ModelDescriptor, bool) {
	for _, m := range models[id] {
		if m.ID == modelID {
			return m, true
		}
	}
	return ModelDescriptor{}, false
}

// FindModel does a case-insensitive substring search across all providers.
func FindModel(models map[provider.ID][]ModelDescriptor, query string) []ModelDescriptor {
	query = strings.ToLower(query)
	var results []ModelDescriptor
	for _, id := range provider.All {
		for _, m := range models[id] {
			if strings.Contains(strings.ToLower(m.ID), query) ||
				strings.Contains(strings.ToLower(m.DisplayName), query) {
				results = append(results, m)
			}
		}
	}
	return results
}

// Flatten returns every model in provider presentation order.
func Flatten(models map[provider.ID][]ModelDescriptor) []ModelDescriptor {
	var out []ModelDescriptor
	for _, id := range provider.All {
		out = append(out, models[id]...)
	}
	return out
}

// normalize de-duplicates by ID and sorts the listing.
func normalize(models []ModelDescriptor) []ModelDescriptor {
	seen := make(map[string]struct{}, len(models))
	out := make([]ModelDescriptor, 0, len(models))
	for _, m := range models {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
