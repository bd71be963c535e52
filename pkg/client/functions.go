package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/Sternrassler/apaas-client/pkg/transport"
)

// FunctionService invokes cloud functions of the namespace.
type FunctionService struct {
	c *Client
}

// Invoke calls the cloud function name with params and returns its raw result.
func (s *FunctionService) Invoke(ctx context.Context, name string, params any) (json.RawMessage, error) {
	env, err := s.c.call(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/api/cloudfunction/v1/namespaces/" + url.PathEscape(s.c.config.Namespace) + "/invoke/" + url.PathEscape(name),
		Route:  "function_invoke",
		Body:   map[string]any{"params": params},
	})
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}
