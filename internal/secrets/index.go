package secrets

import (
	"sort"
	"strings"
	"time"
)

// versionMeta is the index record of one stored version: its ref plus
// the display projection of the decrypted content, so listing and
// filtering never touch ciphertext again.
type versionMeta struct {
	blockID   string
	timestamp int64
	deleted   bool
	entry     SecretEntry
}

// indexEntry groups all versions of one logical secret, sorted
// ascending by (timestamp, block id).
type indexEntry struct {
	versions []versionMeta
}

// index is the in-memory mapping from secret id to its versions. It is
// rebuilt by scanning the block log on unlock and updated in place on
// add. The owning store serializes access.
type index struct {
	entries map[string]*indexEntry
}

func newIndex() *index {
	return &index{entries: make(map[string]*indexEntry)}
}

// addVersion records a version under its secret id. Insertion order is
// arbitrary; the sort key keeps the derived views stable.
func (x *index) addVersion(v *SecretVersion, blockID string) {
	e := x.entries[v.SecretID]
	if e == nil {
		e = &indexEntry{}
		x.entries[v.SecretID] = e
	}

	e.versions = append(e.versions, versionMeta{
		blockID:   blockID,
		timestamp: v.Timestamp.UnixNano(),
		deleted:   v.Deleted,
		entry:     v.entry(),
	})
	sort.Slice(e.versions, func(i, j int) bool {
		if e.versions[i].timestamp != e.versions[j].timestamp {
			return e.versions[i].timestamp < e.versions[j].timestamp
		}
		return e.versions[i].blockID < e.versions[j].blockID
	})
}

// current returns the highest-timestamp non-deleted version. Timestamp
// ties go to the lexicographically greater block id.
func (e *indexEntry) current() (versionMeta, bool) {
	for i := len(e.versions) - 1; i >= 0; i-- {
		if !e.versions[i].deleted {
			return e.versions[i], true
		}
	}
	return versionMeta{}, false
}

// display is the list projection of the secret: the fields of the
// current version, or of the newest tombstone if every version is
// deleted. The Deleted flag tracks whether the newest version overall
// is a tombstone.
func (e *indexEntry) display() SecretEntry {
	newest := e.versions[len(e.versions)-1]

	entry := newest.entry
	if current, ok := e.current(); ok {
		entry = current.entry
	}
	entry.Deleted = newest.deleted
	return entry
}

// current resolves the current version ref of a secret.
func (x *index) current(secretID string) (versionMeta, bool) {
	e, ok := x.entries[secretID]
	if !ok || len(e.versions) == 0 {
		return versionMeta{}, false
	}
	return e.current()
}

// refs returns the full version history of a secret, newest first.
func (x *index) refs(secretID string) []SecretVersionRef {
	e, ok := x.entries[secretID]
	if !ok {
		return nil
	}

	out := make([]SecretVersionRef, 0, len(e.versions))
	for i := len(e.versions) - 1; i >= 0; i-- {
		out = append(out, SecretVersionRef{
			BlockID:   e.versions[i].blockID,
			Timestamp: time.Unix(0, e.versions[i].timestamp).UTC(),
		})
	}
	return out
}

// list applies a filter over the display entries. Results are sorted by
// (name, secret id).
func (x *index) list(filter ListFilter) []SecretEntry {
	out := make([]SecretEntry, 0, len(x.entries))
	for _, e := range x.entries {
		if len(e.versions) == 0 {
			continue
		}
		entry := e.display()
		if !matches(entry, filter) {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func matches(entry SecretEntry, filter ListFilter) bool {
	if entry.Deleted != filter.Deleted {
		return false
	}
	if filter.Name != "" && !strings.Contains(strings.ToLower(entry.Name), strings.ToLower(filter.Name)) {
		return false
	}
	if filter.Type != "" && entry.Type != filter.Type {
		return false
	}
	if filter.Tag != "" {
		found := false
		for _, tag := range entry.Tags {
			if tag == filter.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
