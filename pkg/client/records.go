package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/Sternrassler/apaas-client/pkg/pagination"
	"github.com/Sternrassler/apaas-client/pkg/transport"
)

// DefaultPageSize is used by QueryAll when the query sets none.
const DefaultPageSize = pagination.MaxChunkSize

// Record is one opaque structured data item. The platform id is under "_id".
type Record = map[string]any

// OrderBy sorts a query by one field.
type OrderBy struct {
	Field     string `json:"field"`
	Direction string `json:"direction"` // "asc" or "desc"
}

// Query is the body of a records_query call. Filter is passed through as-is.
type Query struct {
	Select         []string  `json:"select,omitempty"`
	Filter         any       `json:"filter,omitempty"`
	OrderBy        []OrderBy `json:"order_by,omitempty"`
	PageSize       int       `json:"page_size,omitempty"`
	Offset         int       `json:"offset,omitempty"`
	PageToken      string    `json:"page_token,omitempty"`
	NeedTotalCount bool      `json:"need_total_count,omitempty"`
}

// QueryPage is one records_query response.
type QueryPage struct {
	Items         []Record `json:"items"`
	Total         int      `json:"total"`
	NextPageToken string   `json:"next_page_token"`
}

// ReadService reads records.
type ReadService struct {
	c *Client
}

// Get reads one record. fields limits the returned fields; nil returns all.
func (s *ReadService) Get(ctx context.Context, object, id string, fields []string) (Record, error) {
	if err := checkObject(object); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrMissingID
	}

	var data struct {
		Item Record `json:"item"`
	}
	err := s.c.callInto(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   s.c.objectPath(object, "records", url.PathEscape(id)),
		Route:  "record_get",
		Body:   map[string]any{"select": fields},
	}, &data)
	if err != nil {
		return nil, err
	}
	return data.Item, nil
}

// Query fetches a single page.
func (s *ReadService) Query(ctx context.Context, object string, q Query) (*QueryPage, error) {
	if err := checkObject(object); err != nil {
		return nil, err
	}

	var page QueryPage
	err := s.c.callInto(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   s.c.objectPath(object, "records_query"),
		Route:  "records_query",
		Body:   q,
	}, &page)
	if err != nil {
		return nil, err
	}
	if page.Items == nil {
		page.Items = []Record{}
	}
	return &page, nil
}

// QueryAll follows page tokens until the server returns none and returns every
// record in response order. Total comes from the first page. On failure no
// partial result is returned.
func (s *ReadService) QueryAll(ctx context.Context, object string, q Query) (*pagination.Result[Record], error) {
	if err := checkObject(object); err != nil {
		return nil, err
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	q.NeedTotalCount = true

	fetch := func(ctx context.Context, cursor string) (*pagination.Page[Record], error) {
		pq := q
		if cursor != "" {
			pq.PageToken = cursor
			pq.Offset = 0
		}
		page, err := s.Query(ctx, object, pq)
		if err != nil {
			return nil, err
		}
		return &pagination.Page[Record]{
			Items:      page.Items,
			Total:      page.Total,
			NextCursor: page.NextPageToken,
		}, nil
	}

	return pagination.Paginate(ctx, fetch,
		pagination.WithMaxPages(s.c.config.MaxPages),
		pagination.WithLabel("query_all:"+object),
	)
}

// WriteService creates and updates records.
type WriteService struct {
	c *Client
}

// Create creates one record and returns it as stored.
func (s *WriteService) Create(ctx context.Context, object string, record Record) (Record, error) {
	if err := checkObject(object); err != nil {
		return nil, err
	}

	var created Record
	err := s.c.callInto(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   s.c.objectPath(object, "records"),
		Route:  "record_create",
		Body:   map[string]any{"record": record},
	}, &created)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreateBatch creates up to pagination.MaxChunkSize records in one call.
func (s *WriteService) CreateBatch(ctx context.Context, object string, records []Record) ([]Record, error) {
	if err := checkObject(object); err != nil {
		return nil, err
	}
	if err := checkBatch(len(records)); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []Record{}, nil
	}

	var data struct {
		Items []Record `json:"items"`
	}
	err := s.c.callInto(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   s.c.objectPath(object, "records_batch"),
		Route:  "records_batch_create",
		Body:   map[string]any{"records": records},
	}, &data)
	if err != nil {
		return nil, err
	}
	return data.Items, nil
}

// CreateAll creates any number of records in sequential chunks and returns the
// created records in input order. A failing chunk aborts the rest; earlier
// chunks stay created and the error is a *pagination.ChunkError.
func (s *WriteService) CreateAll(ctx context.Context, object string, records []Record) ([]Record, error) {
	return pagination.ConcatChunks(ctx, records, pagination.MaxChunkSize,
		func(ctx context.Context, chunk []Record) ([]Record, error) {
			return s.CreateBatch(ctx, object, chunk)
		})
}

// Update patches one record.
func (s *WriteService) Update(ctx context.Context, object, id string, record Record) error {
	if err := checkObject(object); err != nil {
		return err
	}
	if id == "" {
		return ErrMissingID
	}

	_, err := s.c.call(ctx, &transport.Request{
		Method: http.MethodPatch,
		Path:   s.c.objectPath(object, "records", url.PathEscape(id)),
		Route:  "record_update",
		Body:   map[string]any{"record": record},
	})
	return err
}

// UpdateBatch patches up to pagination.MaxChunkSize records, each carrying its
// "_id", and returns the raw response data. An empty batch sends nothing and
// returns nil data.
func (s *WriteService) UpdateBatch(ctx context.Context, object string, records []Record) (json.RawMessage, error) {
	if err := checkObject(object); err != nil {
		return nil, err
	}
	if err := checkBatch(len(records)); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	env, err := s.c.call(ctx, &transport.Request{
		Method: http.MethodPatch,
		Path:   s.c.objectPath(object, "records_batch"),
		Route:  "records_batch_update",
		Body:   map[string]any{"records": records},
	})
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

// UpdateAll patches any number of records in sequential chunks and returns one
// raw response per chunk.
func (s *WriteService) UpdateAll(ctx context.Context, object string, records []Record) ([]json.RawMessage, error) {
	return pagination.CollectChunks(ctx, records, pagination.MaxChunkSize,
		func(ctx context.Context, chunk []Record) (json.RawMessage, error) {
			return s.UpdateBatch(ctx, object, chunk)
		})
}

// DeleteService deletes records.
type DeleteService struct {
	c *Client
}

// Delete removes one record.
func (s *DeleteService) Delete(ctx context.Context, object, id string) error {
	if err := checkObject(object); err != nil {
		return err
	}
	if id == "" {
		return ErrMissingID
	}

	_, err := s.c.call(ctx, &transport.Request{
		Method: http.MethodDelete,
		Path:   s.c.objectPath(object, "records", url.PathEscape(id)),
		Route:  "record_delete",
	})
	return err
}

// DeleteBatch removes up to pagination.MaxChunkSize records and returns the raw
// response data. An empty batch sends nothing and returns nil data.
func (s *DeleteService) DeleteBatch(ctx context.Context, object string, ids []string) (json.RawMessage, error) {
	if err := checkObject(object); err != nil {
		return nil, err
	}
	if err := checkBatch(len(ids)); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	env, err := s.c.call(ctx, &transport.Request{
		Method: http.MethodDelete,
		Path:   s.c.objectPath(object, "records_batch"),
		Route:  "records_batch_delete",
		Body:   map[string]any{"ids": ids},
	})
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

// DeleteAll removes any number of records in sequential chunks and returns one
// raw response per chunk. Chunks before a failing one stay deleted.
func (s *DeleteService) DeleteAll(ctx context.Context, object string, ids []string) ([]json.RawMessage, error) {
	return pagination.CollectChunks(ctx, ids, pagination.MaxChunkSize,
		func(ctx context.Context, chunk []string) (json.RawMessage, error) {
			return s.DeleteBatch(ctx, object, chunk)
		})
}
