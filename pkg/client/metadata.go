package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/Sternrassler/apaas-client/pkg/cache"
	"github.com/Sternrassler/apaas-client/pkg/transport"
)

// MetadataService reads object and field schemas. Results are cached in Redis
// when the client was configured with one.
type MetadataService struct {
	c *Client
}

// Object returns the metadata of object including all its fields.
func (s *MetadataService) Object(ctx context.Context, object string) (json.RawMessage, error) {
	if err := checkObject(object); err != nil {
		return nil, err
	}
	return s.load(ctx, cache.CacheKey{Namespace: s.c.config.Namespace, Object: object}, "object_meta")
}

// Field returns the metadata of one field of object.
func (s *MetadataService) Field(ctx context.Context, object, field string) (json.RawMessage, error) {
	if err := checkObject(object); err != nil {
		return nil, err
	}
	if field == "" {
		return nil, ErrMissingField
	}
	return s.load(ctx, cache.CacheKey{Namespace: s.c.config.Namespace, Object: object, Field: field}, "field_meta")
}

// Invalidate drops every cached entry of object. It is a no-op without a cache.
func (s *MetadataService) Invalidate(ctx context.Context, object string) error {
	if s.c.cache == nil {
		return nil
	}
	_, err := s.c.cache.InvalidateObject(ctx, cache.CacheKey{Namespace: s.c.config.Namespace, Object: object})
	return err
}

func (s *MetadataService) load(ctx context.Context, key cache.CacheKey, route string) (json.RawMessage, error) {
	fetch := func(ctx context.Context) (json.RawMessage, error) {
		path := "/v1/data/namespaces/" + url.PathEscape(key.Namespace) + "/meta/objects/" + url.PathEscape(key.Object)
		if key.Field != "" {
			path += "/fields/" + url.PathEscape(key.Field)
		}
		env, err := s.c.call(ctx, &transport.Request{
			Method: http.MethodGet,
			Path:   path,
			Route:  route,
		})
		if err != nil {
			return nil, err
		}
		return env.Data, nil
	}

	if s.c.cache == nil {
		return fetch(ctx)
	}
	return s.c.cache.GetOrLoad(ctx, key, fetch)
}
