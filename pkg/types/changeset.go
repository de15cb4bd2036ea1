package types

// ChangeSet classifies every path seen across a fresh scan and the catalog.
// Each path appears in exactly one list.
type ChangeSet struct {
	New       []FileFingerprint `json:"new"`
	Modified  []FileFingerprint `json:"modified"`
	Deleted   []FileFingerprint `json:"deleted"`
	Unchanged []FileFingerprint `json:"unchanged"`
}

// ChangeCounts summarises a ChangeSet
type ChangeCounts struct {
	New       int `json:"new"`
	Modified  int `json:"modified"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
}

// Additions returns the paths that need fetching: New followed by Modified
func (c *ChangeSet) Additions() []FileFingerprint {
	out := make([]FileFingerprint, 0, len(c.New)+len(c.Modified))
	out = append(out, c.New...)
	out = append(out, c.Modified...)
	return out
}

// HasChanges reports whether anything must be fetched or deleted
func (c *ChangeSet) HasChanges() bool {
	return len(c.New) > 0 || len(c.Modified) > 0 || len(c.Deleted) > 0
}

// Total returns the number of distinct paths classified
func (c *ChangeSet) Total() int {
	return len(c.New) + len(c.Modified) + len(c.Deleted) + len(c.Unchanged)
}

// Counts returns the size of each class
func (c *ChangeSet) Counts() ChangeCounts {
	return ChangeCounts{
		New:       len(c.New),
		Modified:  len(c.Modified),
		Deleted:   len(c.Deleted),
		Unchanged: len(c.Unchanged),
	}
}

// DeletedPaths returns the paths of the Deleted class
func (c *ChangeSet) DeletedPaths() []string {
	paths := make([]string, len(c.Deleted))
	for i, f := range c.Deleted {
		paths[i] = f.Path
	}
	return paths
}
