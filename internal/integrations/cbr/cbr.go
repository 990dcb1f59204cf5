package cbr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Dan9191/gopay/internal/config"
	"github.com/Dan9191/gopay/internal/models"
	"github.com/beevik/etree"
	"github.com/sirupsen/logrus"
)

// BankMargin is added on top of the central bank key rate
const BankMargin = 5.0

// CBRClient handles integration with Central Bank of Russia
type CBRClient struct {
	url    string
	client *http.Client
	log    *logrus.Logger
	now    func() time.Time

	mu     sync.RWMutex
	cached *models.KeyRate
}

// NewCBRClient initializes a new CBR client
func NewCBRClient(cfg *config.Config, log *logrus.Logger) *CBRClient {
	return &CBRClient{
		url: cfg.CBRURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
		now: time.Now,
	}
}

// buildSOAPRequest asks for the key rates of the last 30 days
func (c *CBRClient) buildSOAPRequest() string {
	now := c.now()
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<soap12:Envelope xmlns:soap12="http://www.w3.org/2003/05/soap-envelope">
	<soap12:Body>
		<KeyRate xmlns="http://web.cbr.ru/">
			<fromDate>%s</fromDate>
			<ToDate>%s</ToDate>
		</KeyRate>
	</soap12:Body>
</soap12:Envelope>`, now.AddDate(0, 0, -30).Format("2006-01-02"), now.Format("2006-01-02"))
}

func (c *CBRClient) sendRequest(ctx context.Context, soapRequest string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBufferString(soapRequest))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")
	req.Header.Set("SOAPAction", "http://web.cbr.ru/KeyRate")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	c.log.Debugf("CBR XML response: %s", string(body))
	return body, nil
}

// parseXMLResponse returns the latest rate, which CBR lists first
func parseXMLResponse(rawBody []byte) (float64, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(rawBody); err != nil {
		return 0, fmt.Errorf("failed to parse XML: %w", err)
	}

	kr := doc.FindElement("//diffgram/KeyRate/KR")
	if kr == nil {
		return 0, fmt.Errorf("no key rate data found in XML")
	}
	rateElement := kr.FindElement("./Rate")
	if rateElement == nil {
		return 0, fmt.Errorf("rate element not found in XML")
	}

	rate, err := strconv.ParseFloat(strings.TrimSpace(rateElement.Text()), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse rate: %w", err)
	}
	return rate, nil
}

// GetKeyRate retrieves the current key rate from CBR, adds the bank margin and caches it
func (c *CBRClient) GetKeyRate(ctx context.Context) (*models.KeyRate, error) {
	body, err := c.sendRequest(ctx, c.buildSOAPRequest())
	if err != nil {
		return nil, err
	}
	rate, err := parseXMLResponse(body)
	if err != nil {
		return nil, err
	}

	kr := &models.KeyRate{Rate: rate + BankMargin, FetchedAt: c.now().UTC()}
	c.mu.Lock()
	c.cached = kr
	c.mu.Unlock()

	c.log.Infof("Retrieved key rate: %.2f%% (including %.2f%% bank margin)", kr.Rate, BankMargin)
	return kr, nil
}

// Refresh updates the cached key rate
func (c *CBRClient) Refresh(ctx context.Context) error {
	_, err := c.GetKeyRate(ctx)
	return err
}

// Current serves the cached key rate and falls back to a live call when nothing is cached yet
func (c *CBRClient) Current(ctx context.Context) (*models.KeyRate, error) {
	c.mu.RLock()
	cached := c.cached
	c.mu.RUnlock()
	if cached != nil {
		out := *cached
		return &out, nil
	}
	return c.GetKeyRate(ctx)
}
