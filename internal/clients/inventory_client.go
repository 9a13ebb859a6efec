// internal/clients/inventory_client.go
package clients

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"libracirc/internal/requests"
)

type holdingsResponse struct {
	HoldingsRecords []struct {
		ID uuid.UUID `json:"id"`
	} `json:"holdingsRecords"`
}

type itemRecord struct {
	ID               uuid.UUID `json:"id"`
	HoldingsRecordID uuid.UUID `json:"holdingsRecordId"`
	Barcode          string    `json:"barcode"`
	Status           struct {
		Name string `json:"name"`
	} `json:"status"`
	EffectiveLocationID *uuid.UUID `json:"effectiveLocationId"`
}

type itemsResponse struct {
	Items []itemRecord `json:"items"`
}

type requestsResponse struct {
	Requests []requests.Request `json:"requests"`
}

// InventoryClient reads items, locations, service points and request
// queues.
type InventoryClient struct {
	*client
}

func NewInventoryClient(baseURL string, opts Options) *InventoryClient {
	return &InventoryClient{client: newClient("inventory", baseURL, opts)}
}

// ItemsByInstance returns every item of every holdings record of the
// instance, with its effective location attached.
func (c *InventoryClient) ItemsByInstance(ctx context.Context, instanceID uuid.UUID) ([]requests.Item, error) {
	var holdings holdingsResponse
	if err := c.get(ctx, "/holdings-storage/holdings", cqlQuery("instanceId=="+instanceID.String()), &holdings); err != nil {
		return nil, fmt.Errorf("failed to get holdings for instance %s: %w", instanceID, err)
	}
	if len(holdings.HoldingsRecords) == 0 {
		return nil, nil
	}

	holdingIDs := make([]string, len(holdings.HoldingsRecords))
	for i, h := range holdings.HoldingsRecords {
		holdingIDs[i] = h.ID.String()
	}
	var found itemsResponse
	query := cqlQuery(fmt.Sprintf("holdingsRecordId==(%s)", strings.Join(holdingIDs, " or ")))
	if err := c.get(ctx, "/item-storage/items", query, &found); err != nil {
		return nil, fmt.Errorf("failed to get items for instance %s: %w", instanceID, err)
	}

	locations, err := c.locations(ctx, found.Items)
	if err != nil {
		return nil, err
	}

	items := make([]requests.Item, len(found.Items))
	for i, rec := range found.Items {
		items[i] = requests.Item{
			ID:               rec.ID,
			HoldingsRecordID: rec.HoldingsRecordID,
			Barcode:          rec.Barcode,
			Status:           rec.Status.Name,
		}
		if rec.EffectiveLocationID != nil {
			items[i].Location = locations[*rec.EffectiveLocationID]
		}
	}
	return items, nil
}

// locations fetches each distinct effective location once.
func (c *InventoryClient) locations(ctx context.Context, items []itemRecord) (map[uuid.UUID]*requests.Location, error) {
	var ids []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, rec := range items {
		if rec.EffectiveLocationID != nil && !seen[*rec.EffectiveLocationID] {
			seen[*rec.EffectiveLocationID] = true
			ids = append(ids, *rec.EffectiveLocationID)
		}
	}

	fetched := make([]*requests.Location, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, id := range ids {
		g.Go(func() error {
			var loc requests.Location
			if err := c.get(gctx, fmt.Sprintf("/locations/%s", id), nil, &loc); err != nil {
				return fmt.Errorf("failed to get location %s: %w", id, err)
			}
			fetched[i] = &loc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[uuid.UUID]*requests.Location, len(ids))
	for i, id := range ids {
		out[id] = fetched[i]
	}
	return out, nil
}

// RequestQueue returns the open requests for an item ordered by position.
func (c *InventoryClient) RequestQueue(ctx context.Context, itemID uuid.UUID) (*requests.RequestQueue, error) {
	var found requestsResponse
	query := cqlQuery(fmt.Sprintf(`itemId==%s and status=="Open*" sortBy position/sort.ascending`, itemID))
	if err := c.get(ctx, "/request-storage/requests", query, &found); err != nil {
		return nil, fmt.Errorf("failed to get request queue for item %s: %w", itemID, err)
	}
	return &requests.RequestQueue{ItemID: itemID, Requests: found.Requests}, nil
}

func (c *InventoryClient) GetServicePoint(ctx context.Context, id uuid.UUID) (*requests.ServicePoint, error) {
	var sp requests.ServicePoint
	if err := c.get(ctx, fmt.Sprintf("/service-points/%s", id), nil, &sp); err != nil {
		return nil, fmt.Errorf("failed to get service point %s: %w", id, err)
	}
	return &sp, nil
}

func cqlQuery(q string) url.Values {
	v := url.Values{}
	v.Set("query", q)
	v.Set("limit", "1000")
	return v
}
