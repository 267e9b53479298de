package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// request mirrors the server's query payload.
type request struct {
	Query            string     `json:"query"`
	FloatID          string     `json:"float_id,omitempty"`
	TimeRange        *timeRange `json:"time_range,omitempty"`
	YearRange        *yearRange `json:"year_range,omitempty"`
	EnableData       *bool      `json:"enable_data,omitempty"`
	EnableLiterature *bool      `json:"enable_literature,omitempty"`
	Agent            string     `json:"agent,omitempty"`
}

// timeRange encodes zero bounds as the zero time, which the server treats
// as unbounded.
type timeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type yearRange struct {
	From int `json:"from,omitempty"`
	To   int `json:"to,omitempty"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type apiClient struct {
	base   string
	http   *http.Client
	pretty bool
}

func newClient() *apiClient {
	return &apiClient{
		base:   strings.TrimRight(viper.GetString("server"), "/"),
		http:   &http.Client{Timeout: viper.GetDuration("timeout")},
		pretty: viper.GetBool("pretty"),
	}
}

// post sends req and writes the data payload to out. A failed envelope is
// returned as an error after its data, if any, is printed.
func (c *apiClient) post(ctx context.Context, path string, req request, out io.Writer) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if len(env.Data) > 0 {
		if err := c.print(out, env.Data); err != nil {
			return err
		}
	}
	if !env.Success {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, env.Error)
	}
	return nil
}

func (c *apiClient) print(out io.Writer, data json.RawMessage) error {
	if !c.pretty {
		_, err := fmt.Fprintln(out, string(data))
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(out)
	return err
}

// requestFromFlags builds a request from the shared query flags.
func requestFromFlags(cmd *cobra.Command, args []string) (request, error) {
	req := request{Query: strings.Join(args, " ")}
	req.FloatID, _ = cmd.Flags().GetString("float")

	fromRaw, _ := cmd.Flags().GetString("from")
	toRaw, _ := cmd.Flags().GetString("to")
	start, err := parseTime(fromRaw, false)
	if err != nil {
		return request{}, fmt.Errorf("--from: %w", err)
	}
	end, err := parseTime(toRaw, true)
	if err != nil {
		return request{}, fmt.Errorf("--to: %w", err)
	}
	if !start.IsZero() || !end.IsZero() {
		req.TimeRange = &timeRange{Start: start, End: end}
	}

	from, _ := cmd.Flags().GetInt("from-year")
	to, _ := cmd.Flags().GetInt("to-year")
	if from > 0 || to > 0 {
		req.YearRange = &yearRange{From: from, To: to}
	}
	if cmd.Flags().Changed("no-data") {
		v := false
		req.EnableData = &v
	}
	if cmd.Flags().Changed("no-literature") {
		v := false
		req.EnableLiterature = &v
	}
	return req, nil
}

// parseTime accepts RFC 3339 or a bare date. A bare date used as an upper
// bound covers the whole day.
func parseTime(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("want YYYY-MM-DD or RFC 3339, got %q", raw)
	}
	if endOfDay {
		d = d.Add(24*time.Hour - time.Second)
	}
	return d, nil
}

func addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().String("float", "", "restrict to one float id")
	cmd.Flags().String("from", "", "earliest observation time (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().String("to", "", "latest observation time (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().Int("from-year", 0, "earliest publication year")
	cmd.Flags().Int("to-year", 0, "latest publication year")
	cmd.Flags().Bool("no-data", false, "skip the float data agents")
	cmd.Flags().Bool("no-literature", false, "skip literature retrieval")
}

func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), viper.GetDuration("timeout")+5*time.Second)
}
