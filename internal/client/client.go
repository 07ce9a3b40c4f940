package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/itstheanurag/codearena/internal/executor"
	"github.com/rs/zerolog"
)

const (
	MsgUnavailable  = "Code execution service is unavailable."
	MsgServiceError = "Code execution service error."
)

// Client submits code to a remote execution service, e.g. CODE_EXECUTION_SERVICE_URL.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *zerolog.Logger
}

func NewClient(url string, httpClient *http.Client, logger *zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Client{
		url:        url,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Execute never fails: transport problems and error responses are folded into an
// outcome with status error so callers can render it like any other result.
func (c *Client) Execute(ctx context.Context, req executor.Request) *executor.Outcome {
	if req.TestCases == nil {
		req.TestCases = []executor.TestCase{}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to encode execution request")
		return failure(MsgServiceError)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to build execution request")
		return failure(MsgUnavailable)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error().Err(err).Msg("Code execution service failed")
		return failure(MsgUnavailable)
	}
	defer resp.Body.Close()

	var out executor.Outcome
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn().Int("status", resp.StatusCode).Msg("code execution service returned an error")
		if decodeErr == nil && out.Message != "" {
			return failure(out.Message)
		}
		return failure(MsgServiceError)
	}

	if decodeErr != nil {
		c.logger.Error().Err(fmt.Errorf("failed to decode execution outcome: %w", decodeErr)).Msg("Code execution service failed")
		return failure(MsgServiceError)
	}
	if out.TestResults == nil {
		out.TestResults = []executor.TestResult{}
	}
	return &out
}

func failure(message string) *executor.Outcome {
	return &executor.Outcome{
		Status:      executor.StatusError,
		Message:     message,
		TestResults: []executor.TestResult{},
	}
}
