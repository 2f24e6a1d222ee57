package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// apiClient is a thin client for the control surface of a running daemon.
// The address comes from MERIDIAN_ADDR (default http://localhost:8700);
// mutating commands send MERIDIAN_ADMIN_API_KEY as a bearer token.
type apiClient struct {
	base string
	key  string
	http *http.Client
}

func newAPIClient() *apiClient {
	base := os.Getenv("MERIDIAN_ADDR")
	if base == "" {
		base = "http://localhost:8700"
	}
	return &apiClient{
		base: base,
		key:  os.Getenv("MERIDIAN_ADMIN_API_KEY"),
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

// envelope mirrors the server's response shape. On errors the server fills
// the error object instead of data.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *apiClient) do(method, path string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w (is the daemon running?)", c.base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("unexpected response (%d): %s", resp.StatusCode, body)
	}
	if env.Error != nil {
		return nil, fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message)
	}
	return env.Data, nil
}

// printData pretty-prints the data portion of a response.
func printData(data json.RawMessage) error {
	var buf map[string]any
	if err := json.Unmarshal(data, &buf); err != nil {
		return err
	}
	out, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show engine state, totals, and derived rates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newAPIClient().do(http.MethodGet, "/v1/status")
			if err != nil {
				return err
			}
			return printData(data)
		},
	}
}

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause the cycle loop (in-flight cycle finishes first)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newAPIClient().do(http.MethodPost, "/v1/pause")
			if err != nil {
				return err
			}
			return printData(data)
		},
	}
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused cycle loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newAPIClient().do(http.MethodPost, "/v1/resume")
			if err != nil {
				return err
			}
			return printData(data)
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the cycle loop permanently (daemon shuts down)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newAPIClient().do(http.MethodPost, "/v1/stop")
			if err != nil {
				return err
			}
			return printData(data)
		},
	}
}

func newActivityCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "List recent activity events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newAPIClient().do(http.MethodGet, "/v1/activity?limit="+strconv.Itoa(limit))
			if err != nil {
				return err
			}
			return printData(data)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum events to return")
	return cmd
}

func newCyclesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "cycles",
		Short: "List recent cycle records with summary statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newAPIClient().do(http.MethodGet, "/v1/cycles?limit="+strconv.Itoa(limit))
			if err != nil {
				return err
			}
			return printData(data)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum cycles to return")
	return cmd
}
