// Package pagination drives cursor-based reads and chunked writes against the
// platform. Both iterators are strictly sequential: a page or chunk is only
// requested after the previous one has returned.
//
// Reads follow the cursor until the server stops returning one:
//
//	res, err := pagination.Paginate(ctx, func(ctx context.Context, cursor string) (*pagination.Page[Record], error) {
//		return fetchRecords(ctx, query, cursor)
//	})
//
// The total of the result is the count reported on the first page; it is not
// recomputed from the items collected.
//
// Writes are split into chunks of at most MaxChunkSize elements:
//
//	created, err := pagination.ConcatChunks(ctx, records, pagination.MaxChunkSize, createBatch)
//
// A failing page aborts the read and nothing is returned. A failing chunk
// aborts the remaining chunks; chunks already sent stay applied on the server
// and the returned *ChunkError says how many completed.
package pagination
