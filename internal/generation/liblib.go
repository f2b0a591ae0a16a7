package generation

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	liblibSubmitPath = "/api/generate/webui/text2img"
	liblibStatusPath = "/api/generate/webui/status"

	liblibStatusSucceeded = 5
	liblibStatusFailed    = 6
)

// LiblibConfig configures the Liblib text-to-image client.
type LiblibConfig struct {
	BaseURL        string        `json:"base_url"`
	AccessKey      string        `json:"access_key"`
	SecretKey      string        `json:"secret_key"`
	CheckpointID   string        `json:"checkpoint_id"`
	NegativePrompt string        `json:"negative_prompt"`
	Width          int           `json:"width"`
	Height         int           `json:"height"`
	Steps          int           `json:"steps"`
	Timeout        time.Duration `json:"timeout"`
}

// LiblibClient generates images through the Liblib WebUI API. Requests
// are authenticated with an HMAC-SHA1 signature carried in the URL
// query, computed over "path&timestampMs&nonce".
type LiblibClient struct {
	cfg    LiblibConfig
	client *http.Client
	logger *zap.Logger
}

// NewLiblibClient creates a client. BaseURL must not end with a slash.
func NewLiblibClient(cfg LiblibConfig, logger *zap.Logger) (*LiblibClient, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("liblib access key and secret key are required")
	}
	if cfg.Width <= 0 {
		cfg.Width = 512
	}
	if cfg.Height <= 0 {
		cfg.Height = 512
	}
	if cfg.Steps <= 0 {
		cfg.Steps = 20
	}
	if cfg.NegativePrompt == "" {
		cfg.NegativePrompt = "ugly, blurry, watermark, text, deformed, worst quality, low quality"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &LiblibClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

func (c *LiblibClient) sign(path string) string {
	timestamp := time.Now().UnixMilli()
	nonce := uuid.New().String()
	mac := hmac.New(sha1.New, []byte(c.cfg.SecretKey))
	fmt.Fprintf(mac, "%s&%d&%s", path, timestamp, nonce)
	signature := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("%s%s?AccessKey=%s&Signature=%s&Timestamp=%d&SignatureNonce=%s",
		c.cfg.BaseURL, path, c.cfg.AccessKey, signature, timestamp, nonce)
}

func (c *LiblibClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sign(path), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("liblib returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Submit enqueues a text-to-image job and returns its generate uuid.
func (c *LiblibClient) Submit(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"generateParams": map[string]any{
			"checkPointId":   c.cfg.CheckpointID,
			"prompt":         prompt,
			"negativePrompt": c.cfg.NegativePrompt,
			"width":          c.cfg.Width,
			"height":         c.cfg.Height,
			"steps":          c.cfg.Steps,
			"imgCount":       1,
		},
	}
	var result struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			GenerateUUID string `json:"generateUuid"`
		} `json:"data"`
	}
	if err := c.post(ctx, liblibSubmitPath, payload, &result); err != nil {
		return "", err
	}
	if result.Code != 0 {
		return "", fmt.Errorf("%w: code %d: %s", ErrSubmitRejected, result.Code, result.Msg)
	}
	if result.Data.GenerateUUID == "" {
		return "", fmt.Errorf("%w: no generate uuid in response", ErrSubmitRejected)
	}
	c.logger.Debug("image job submitted", zap.String("job", result.Data.GenerateUUID))
	return result.Data.GenerateUUID, nil
}

// Poll reports a job's generate status: 5 means done, 6 means failed,
// anything else is still in flight.
func (c *LiblibClient) Poll(ctx context.Context, jobID string) (*Result, error) {
	var result struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			GenerateStatus int    `json:"generateStatus"`
			GenerateMsg    string `json:"generateMsg"`
			Images         []struct {
				ImageURL string `json:"imageUrl"`
			} `json:"images"`
		} `json:"data"`
	}
	if err := c.post(ctx, liblibStatusPath, map[string]string{"generateUuid": jobID}, &result); err != nil {
		return nil, err
	}
	if result.Code != 0 {
		return nil, fmt.Errorf("liblib status error: code %d: %s", result.Code, result.Msg)
	}
	switch result.Data.GenerateStatus {
	case liblibStatusSucceeded:
		var url string
		for _, img := range result.Data.Images {
			if strings.TrimSpace(img.ImageURL) != "" {
				url = img.ImageURL
				break
			}
		}
		if url == "" {
			return &Result{State: StateFailed, Detail: "job succeeded but returned no image"}, nil
		}
		return &Result{State: StateSucceeded, Location: url}, nil
	case liblibStatusFailed:
		return &Result{State: StateFailed, Detail: result.Data.GenerateMsg}, nil
	default:
		return &Result{State: StatePending, Detail: result.Data.GenerateMsg}, nil
	}
}
