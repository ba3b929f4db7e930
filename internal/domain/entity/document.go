package entity

// Document is an opaque string payload plus an identifier. Documents are
// immutable for the lifetime of a query: the engine never mutates Content,
// and only the sandbox child that loaded them ever holds their bytes.
type Document struct {
	// ID is the caller-supplied identifier (e.g. a filename or arXiv id).
	// It has no bearing on ordering — Index does.
	ID string

	// Index is the document's zero-based position in context[]. Stable
	// for the lifetime of the query and visible to the driver LLM.
	Index int

	// Content is the document text. May be arbitrarily large; the engine
	// never copies it beyond what's needed to seed the sandbox namespace
	// and compute size statistics for the priming message.
	Content string
}

// Len returns the character length of the document content.
func (d Document) Len() int {
	return len(d.Content)
}

// DocumentSet is an ordered, immutable collection of documents forming the
// context[] array seen by sandboxed code.
type DocumentSet []Document

// TotalChars sums the character length of every document in the set.
func (ds DocumentSet) TotalChars() int {
	total := 0
	for _, d := range ds {
		total += d.Len()
	}
	return total
}

// Reindex returns a copy of the set with Index fields set to slice position,
// regardless of what Index values were supplied by the caller. Query
// construction always reindexes so context[] order matches slice order.
func (ds DocumentSet) Reindex() DocumentSet {
	out := make(DocumentSet, len(ds))
	for i, d := range ds {
		d.Index = i
		out[i] = d
	}
	return out
}
