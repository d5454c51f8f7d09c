package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fleetnotify/internal/model"
)

// FleetClient talks to the fleet management HTTP API.
//
// Lookups of a single car or order report absence through the found result
// instead of an error: a missing order is an expected outcome for the watcher.
type FleetClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewFleetClient creates a client. The timeout must exceed the backend's
// long-poll wait, otherwise PollOrderStates fails instead of returning empty.
func NewFleetClient(baseURL, apiKey string, timeout time.Duration) *FleetClient {
	return &FleetClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *FleetClient) ListCars(ctx context.Context) ([]model.Car, error) {
	var cars []model.Car
	if _, err := c.get(ctx, "/car", nil, &cars); err != nil {
		return nil, fmt.Errorf("list cars: %w", err)
	}
	return cars, nil
}

func (c *FleetClient) GetCar(ctx context.Context, carID int) (model.Car, bool, error) {
	var car model.Car
	found, err := c.get(ctx, fmt.Sprintf("/car/%d", carID), nil, &car)
	if err != nil {
		return model.Car{}, false, fmt.Errorf("get car %d: %w", carID, err)
	}
	return car, found, nil
}

func (c *FleetClient) GetOrder(ctx context.Context, carID, orderID int) (model.Order, bool, error) {
	var order model.Order
	found, err := c.get(ctx, fmt.Sprintf("/order/%d/%d", carID, orderID), nil, &order)
	if err != nil {
		return model.Order{}, false, fmt.Errorf("get order %d: %w", orderID, err)
	}
	return order, found, nil
}

func (c *FleetClient) ListOrders(ctx context.Context) ([]model.Order, error) {
	var orders []model.Order
	if _, err := c.get(ctx, "/order", nil, &orders); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// PollOrderStates returns states newer than since. With wait set the backend
// holds the request until a state appears or its own wait elapses, in which
// case the result is empty.
func (c *FleetClient) PollOrderStates(ctx context.Context, since int64, wait bool) ([]model.OrderState, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	if wait {
		q.Set("wait", "true")
	}

	var states []model.OrderState
	if _, err := c.get(ctx, "/orderstate", q, &states); err != nil {
		return nil, fmt.Errorf("poll order states: %w", err)
	}
	return states, nil
}

// get decodes a JSON response into out. It returns false without an error
// when the backend answers 404.
func (c *FleetClient) get(ctx context.Context, path string, q url.Values, out any) (bool, error) {
	if q == nil {
		q = url.Values{}
	}
	if c.apiKey != "" {
		q.Set("api_key", c.apiKey)
	}

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("decode response: %w", err)
		}
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return false, fmt.Errorf("unexpected status: %d, body: %s", resp.StatusCode, string(body))
	}
}
