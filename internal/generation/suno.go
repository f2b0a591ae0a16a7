package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SunoConfig configures the Suno music client.
type SunoConfig struct {
	BaseURL      string        `json:"base_url"`
	APIKey       string        `json:"api_key"`
	Model        string        `json:"model"`
	Instrumental bool          `json:"instrumental"`
	CallbackURL  string        `json:"callback_url"`
	Timeout      time.Duration `json:"timeout"`
}

// SunoClient generates short music tracks. Auth is a bearer token;
// the generate call returns a task id which is polled via record-info.
type SunoClient struct {
	cfg    SunoConfig
	client *http.Client
	logger *zap.Logger
}

// NewSunoClient creates a client.
func NewSunoClient(cfg SunoConfig, logger *zap.Logger) (*SunoClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("suno api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "V3_5"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SunoClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

func (c *SunoClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("suno returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Submit enqueues a music generation task and returns its task id.
func (c *SunoClient) Submit(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"prompt":       prompt,
		"customMode":   false,
		"instrumental": c.cfg.Instrumental,
		"model":        c.cfg.Model,
		"callBackUrl":  c.cfg.CallbackURL,
	}
	var result struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/generate", payload, &result); err != nil {
		return "", err
	}
	if result.Code != http.StatusOK {
		return "", fmt.Errorf("%w: code %d: %s", ErrSubmitRejected, result.Code, result.Msg)
	}
	if result.Data.TaskID == "" {
		return "", fmt.Errorf("%w: no task id in response", ErrSubmitRejected)
	}
	c.logger.Debug("music job submitted", zap.String("job", result.Data.TaskID))
	return result.Data.TaskID, nil
}

// Poll checks the task's record-info. Anything that is not success or
// an explicit failure counts as still pending.
func (c *SunoClient) Poll(ctx context.Context, jobID string) (*Result, error) {
	var result struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			Status   string `json:"status"`
			Response struct {
				SunoData []struct {
					AudioURL string `json:"audioUrl"`
				} `json:"sunoData"`
			} `json:"response"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/generate/record-info?taskId="+jobID, nil, &result); err != nil {
		return nil, err
	}
	switch strings.ToLower(result.Data.Status) {
	case "success":
		var url string
		for _, track := range result.Data.Response.SunoData {
			if strings.TrimSpace(track.AudioURL) != "" {
				url = track.AudioURL
				break
			}
		}
		if url == "" {
			return &Result{State: StateFailed, Detail: "task succeeded but returned no audio"}, nil
		}
		return &Result{State: StateSucceeded, Location: url}, nil
	case "failed", "error":
		return &Result{State: StateFailed, Detail: result.Msg}, nil
	default:
		return &Result{State: StatePending, Detail: result.Data.Status}, nil
	}
}
