package domain

// CommunityRecord is one recovered community as written to the corpus.
type CommunityRecord struct {
	Name              string
	MemberCount       *int
	Category          string
	SnapshotTimestamp string
	SourceID          string
}

// DedupKey groups records that describe the same community on the same source page.
func (r CommunityRecord) DedupKey() string {
	return r.Name + "\x00" + r.SourceID
}

// Corpus is the ordered, deduplicated record set handed to the tabular writer.
type Corpus struct {
	Records []CommunityRecord
}

// Len returns the number of records.
func (c Corpus) Len() int {
	return len(c.Records)
}

// Names lists record names in corpus order.
func (c Corpus) Names() []string {
	names := make([]string, 0, len(c.Records))
	for _, r := range c.Records {
		names = append(names, r.Name)
	}
	return names
}
