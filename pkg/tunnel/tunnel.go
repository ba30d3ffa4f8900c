package tunnel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/core-tools/hsu-panel/pkg/errors"
	"github.com/core-tools/hsu-panel/pkg/logging"
)

const (
	DefaultAPIURL  = "http://127.0.0.1:4040/api/tunnels"
	DefaultTimeout = 3 * time.Second

	tcpScheme = "tcp://"
)

type Config struct {
	APIURL  string        `yaml:"api_url,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Client asks the local tunnel agent for the public address of its tcp tunnel
type Client struct {
	config Config
	client *http.Client
	logger logging.Logger
}

func NewClient(config Config, logger logging.Logger) *Client {
	if config.APIURL == "" {
		config.APIURL = DefaultAPIURL
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &Client{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}
}

// Endpoint returns host:port of the first tcp tunnel
func (c *Client) Endpoint(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.APIURL, nil)
	if err != nil {
		return "", errors.NewValidationError("invalid tunnel api url", err).WithContext("url", c.config.APIURL)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debugf("Tunnel agent unreachable, url: %s, error: %v", c.config.APIURL, err)
		return "", errors.NewUnavailableError("tunnel service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.NewUnavailableError(fmt.Sprintf("tunnel service returned status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.NewUnavailableError("failed to read tunnel service response", err)
	}
	if !gjson.ValidBytes(body) {
		return "", errors.NewUnavailableError("malformed tunnel service response", nil)
	}

	address := gjson.GetBytes(body, `tunnels.#(proto=="tcp").public_url`).String()
	if address == "" {
		return "", errors.NewNotFoundError("no tcp tunnel found", nil)
	}
	return strings.TrimPrefix(address, tcpScheme), nil
}
