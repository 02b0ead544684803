package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/carebridge/dispenser/core/model"
)

// Typed operations against the medication service. Responses are decoded
// here, at the client boundary; the orchestrator never sees raw maps.

// Authenticate verifies a scanned identifier. Under total failure the error
// is surfaced rather than queued: an authentication has no value delivered
// late.
func (c *Client) Authenticate(ctx context.Context, id model.Identifier) (model.AuthResult, error) {
	raw, err := json.Marshal(map[string]string{"uid": string(id)})
	if err != nil {
		return model.AuthResult{}, err
	}
	body, _, err := c.exchange(ctx, "POST", "verify-uid", nil, raw)
	if err != nil {
		return model.AuthResult{Status: model.StatusError}, err
	}
	var out model.AuthResult
	if err := json.Unmarshal(body, &out); err != nil {
		return model.AuthResult{Status: model.StatusError}, fmt.Errorf("decode auth response: %w", err)
	}
	return out, nil
}

// FetchDueOrders returns the medicines due for the identifier right now.
// Not cached: the list changes as doses are taken.
func (c *Client) FetchDueOrders(ctx context.Context, id model.Identifier) ([]model.MedicineOrder, error) {
	raw, err := json.Marshal(map[string]string{"k_uid": string(id)})
	if err != nil {
		return nil, err
	}
	body, _, err := c.exchange(ctx, "POST", "dispense-list", nil, raw)
	if err != nil {
		return nil, err
	}
	var out []model.MedicineOrder
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode due orders: %w", err)
	}
	return out, nil
}

// ReportResult reports the successfully dispensed items. Queued when both
// servers are down.
func (c *Client) ReportResult(ctx context.Context, id model.Identifier, success []model.DispensedItem) (model.ReportResult, error) {
	payload := map[string]any{"k_uid": string(id), "dispenseList": success}
	resp, err := c.Post(ctx, "dispense-result", payload)
	if err != nil {
		return model.ReportResult{Status: model.StatusError}, err
	}
	if resp.Queued {
		return model.ReportResult{Status: model.StatusQueued}, nil
	}
	var out model.ReportResult
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return model.ReportResult{Status: model.StatusError}, fmt.Errorf("decode report response: %w", err)
	}
	if out.Status == "" {
		out.Status = model.StatusOK
	}
	return out, nil
}

// ConfirmIntake marks the day's dose as taken. Queued when both servers are
// down.
func (c *Client) ConfirmIntake(ctx context.Context, id model.Identifier) (model.ConfirmResult, error) {
	resp, err := c.Post(ctx, "confirm", map[string]string{"uid": string(id)})
	if err != nil {
		return model.ConfirmResult{Status: model.StatusError}, err
	}
	if resp.Queued {
		return model.ConfirmResult{Status: model.StatusQueued}, nil
	}
	var out model.ConfirmResult
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return model.ConfirmResult{Status: model.StatusError}, fmt.Errorf("decode confirm response: %w", err)
	}
	return out, nil
}

// FetchSlotMapping returns the device-wide medicine to slot table. Cached
// with the client TTL; the orchestrator applies its own validity window on
// top.
func (c *Client) FetchSlotMapping(ctx context.Context, deviceID string) (model.SlotMapping, error) {
	resp, err := c.Get(ctx, "slot-mapping/"+deviceID, nil, true)
	if err != nil {
		return nil, err
	}
	var out model.SlotMapping
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decode slot mapping: %w", err)
	}
	return out, nil
}

// IsDeviceRegistered reports whether any user is linked to this device.
func (c *Client) IsDeviceRegistered(ctx context.Context, deviceID string) (bool, error) {
	resp, err := c.Get(ctx, "users/by-muid/"+deviceID, nil, false)
	if err != nil {
		return false, err
	}
	var out struct {
		Users []json.RawMessage `json:"users"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return false, fmt.Errorf("decode registration response: %w", err)
	}
	return len(out.Users) > 0, nil
}
