package apify

import "context"

// DefaultPageSize is the dataset page size used when none is given.
const DefaultPageSize = 500

// DatasetIterator streams a dataset's items page by page. It is a lazy,
// finite, single-pass sequence: at most one page is held in memory.
//
//	it := apify.NewDatasetIterator(client, datasetID, 0)
//	for it.Next(ctx) {
//		rec := it.Record()
//		...
//	}
//	if err := it.Err(); err != nil { ... }
type DatasetIterator struct {
	client    Client
	datasetID string
	pageSize  int

	page    []map[string]any
	idx     int
	offset  int
	done    bool
	err     error
	current map[string]any
}

// NewDatasetIterator creates an iterator over the dataset's items. A
// pageSize <= 0 uses DefaultPageSize.
func NewDatasetIterator(client Client, datasetID string, pageSize int) *DatasetIterator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &DatasetIterator{
		client:    client,
		datasetID: datasetID,
		pageSize:  pageSize,
	}
}

// Next advances to the next record, fetching the next page when the current
// one is exhausted. Returns false at end of data or on error; check Err.
func (it *DatasetIterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}

	for it.idx >= len(it.page) {
		if it.done {
			return false
		}
		page, err := it.client.DatasetItems(ctx, it.datasetID, it.offset, it.pageSize)
		if err != nil {
			it.err = err
			return false
		}
		if len(page) < it.pageSize {
			// Short page means the dataset is exhausted after this page.
			it.done = true
		}
		if len(page) == 0 {
			return false
		}
		it.offset += len(page)
		it.page = page
		it.idx = 0
	}

	it.current = it.page[it.idx]
	it.idx++
	return true
}

// Record returns the record positioned by the last successful Next call.
func (it *DatasetIterator) Record() map[string]any {
	return it.current
}

// Err returns the first error encountered while fetching pages.
func (it *DatasetIterator) Err() error {
	return it.err
}
