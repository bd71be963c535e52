package client

import (
	"context"
	"net/http"

	"github.com/Sternrassler/apaas-client/pkg/pagination"
	"github.com/Sternrassler/apaas-client/pkg/transport"
)

// DepartmentsPath is the identifier exchange endpoint. It is not namespaced.
const DepartmentsPath = "/api/integration/v2/feishu/getDepartments"

// Department id spaces accepted by DepartmentService.Exchange.
const (
	DepartmentIDTypeExternal = "department_id"
	DepartmentIDTypeOpen     = "open_department_id"
)

// Department is one entry of an identifier exchange response.
type Department = map[string]any

// DepartmentService maps department identifiers between id spaces.
type DepartmentService struct {
	c *Client
}

// Exchange resolves ids of type idType, pagination.MaxChunkSize per call, and
// returns the concatenated results in input order.
func (s *DepartmentService) Exchange(ctx context.Context, idType string, ids []string) ([]Department, error) {
	return pagination.ConcatChunks(ctx, ids, pagination.MaxChunkSize,
		func(ctx context.Context, chunk []string) ([]Department, error) {
			var out []Department
			err := s.c.callInto(ctx, &transport.Request{
				Method: http.MethodPost,
				Path:   DepartmentsPath,
				Route:  "departments",
				Body: map[string]any{
					"department_id_type": idType,
					"department_ids":     chunk,
				},
			}, &out)
			return out, err
		})
}
