package model

// CategoryListing is the ordered list of references of one category together with
// its sequence counter. NextSeq only grows, so insertion order survives a rebuild.
type CategoryListing struct {
	Category Category          `json:"category" firestore:"category"`
	NextSeq  int64             `json:"next_seq" firestore:"next_seq"`
	Refs     []*MediaReference `json:"refs" firestore:"refs"`
}

// Index maps every category to its listing
type Index struct {
	Categories map[Category]*CategoryListing `json:"categories"`
}

// NewIndex returns an index with an empty listing for each category
func NewIndex(categories ...Category) *Index {
	idx := &Index{Categories: make(map[Category]*CategoryListing, len(categories))}
	for _, c := range categories {
		idx.Categories[c] = &CategoryListing{Category: c, NextSeq: 1}
	}
	return idx
}

// Len returns the number of references in a category
func (x *Index) Len(c Category) int {
	if l, ok := x.Categories[c]; ok {
		return len(l.Refs)
	}
	return 0
}
