// internal/clients/request_client.go
package clients

import (
	"context"
	"fmt"

	"libracirc/internal/requests"
)

// RequestClient creates item-level requests.
type RequestClient struct {
	*client
}

func NewRequestClient(baseURL string, opts Options) *RequestClient {
	return &RequestClient{client: newClient("request", baseURL, opts)}
}

func (c *RequestClient) CreateRequest(ctx context.Context, r requests.ItemRequest) (*requests.Request, error) {
	var created requests.Request
	if err := c.post(ctx, "/circulation/requests", r, &created); err != nil {
		return nil, fmt.Errorf("failed to create %s request for item %s: %w", r.RequestType, r.ItemID, err)
	}
	return &created, nil
}
