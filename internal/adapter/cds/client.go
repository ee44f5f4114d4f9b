// Package cds retrieves gridded reanalysis data from the Copernicus Climate
// Data Store retrieve API.
package cds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// defaultBaseURL is the CDS retrieve API endpoint.
const defaultBaseURL = "https://cds.climate.copernicus.eu/api/v2"

// Request describes one dataset retrieval: which variable over which
// calendar range, sampled at a reference time of day, in NetCDF form.
type Request struct {
	Dataset     string
	ProductType string
	Variable    string
	Years       []int
	Months      []int
	Time        string
	Format      string
}

// Client submits retrieval requests, polls the resulting task until it
// completes, and downloads the product. Authentication uses the CDS
// "UID:key" credential as HTTP basic auth. There is no retry policy: a
// failed retrieval is fatal to the run.
type Client struct {
	baseURL      string
	key          string
	httpClient   *http.Client
	pollInterval time.Duration
	clock        clockwork.Clock
	logger       *slog.Logger
}

// NewClient creates a CDS client. key is the "UID:key" pair from the CDS
// profile page; an empty baseURL selects the public endpoint.
func NewClient(baseURL, key string, timeout, pollInterval time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:      baseURL,
		key:          key,
		httpClient:   &http.Client{Timeout: timeout},
		pollInterval: pollInterval,
		clock:        clockwork.NewRealClock(),
		logger:       logger,
	}
}

// Retrieve runs the full submit-poll-download cycle, writing the product to
// dest.
func (c *Client) Retrieve(ctx context.Context, req Request, dest string) error {
	task, err := c.submit(ctx, req)
	if err != nil {
		return err
	}
	c.logger.Info("retrieval submitted",
		"dataset", req.Dataset, "variable", req.Variable, "request_id", task.RequestID)

	location, err := c.waitForCompletion(ctx, task)
	if err != nil {
		return err
	}

	if err := c.download(ctx, location, dest); err != nil {
		return err
	}
	c.logger.Info("retrieval complete", "dataset", req.Dataset, "variable", req.Variable, "dest", dest)
	return nil
}

func (c *Client) submit(ctx context.Context, req Request) (*taskReply, error) {
	body, err := json.Marshal(requestBody(req))
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	u := fmt.Sprintf("%s/resources/%s", c.baseURL, req.Dataset)
	return c.doJSON(ctx, http.MethodPost, u, bytes.NewReader(body))
}

// waitForCompletion polls the task until it reaches a terminal state and
// returns the product download location.
func (c *Client) waitForCompletion(ctx context.Context, task *taskReply) (string, error) {
	for {
		switch task.State {
		case "completed":
			return task.Location, nil
		case "failed":
			return "", fmt.Errorf("cds task %s failed: %s", task.RequestID, task.Error.Message)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-c.clock.After(c.pollInterval):
		}

		u := fmt.Sprintf("%s/tasks/%s", c.baseURL, task.RequestID)
		next, err := c.doJSON(ctx, http.MethodGet, u, nil)
		if err != nil {
			return "", err
		}
		next.RequestID = task.RequestID
		task = next
	}
}

func (c *Client) doJSON(ctx context.Context, method, url string, body io.Reader) (*taskReply, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cds request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("cds API error: status %d: %s", resp.StatusCode, msg)
	}

	var task taskReply
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &task, nil
}

func (c *Client) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download product: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download product: status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return nil
}

// authorize sets HTTP basic auth from the "UID:key" credential.
func (c *Client) authorize(req *http.Request) {
	uid, secret, ok := strings.Cut(c.key, ":")
	if !ok {
		return
	}
	req.SetBasicAuth(uid, secret)
}

// requestBody maps a Request onto the CDS wire format, which wants every
// numeric selector as a list of strings.
func requestBody(req Request) map[string]any {
	years := make([]string, len(req.Years))
	for i, y := range req.Years {
		years[i] = fmt.Sprintf("%d", y)
	}
	months := make([]string, len(req.Months))
	for i, m := range req.Months {
		months[i] = fmt.Sprintf("%02d", m)
	}

	format := req.Format
	if format == "" {
		format = "netcdf"
	}
	body := map[string]any{
		"variable": []string{req.Variable},
		"year":     years,
		"month":    months,
		"format":   format,
	}
	if req.ProductType != "" {
		body["product_type"] = req.ProductType
	}
	if req.Time != "" {
		body["time"] = req.Time
	}
	return body
}

// CDS API reply types.

type taskReply struct {
	State     string    `json:"state"`
	RequestID string    `json:"request_id"`
	Location  string    `json:"location"`
	Error     taskError `json:"error"`
}

type taskError struct {
	Message string `json:"message"`
	Reason  string `json:"reason"`
}
