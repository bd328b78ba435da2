package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/GoPolymarket/polypilot/internal/model"
)

// Market is the tradable up-or-down market resolved for a bot's
// currency/timeframe pair.
type Market struct {
	ConditionID string    `json:"condition_id"`
	Slug        string    `json:"slug"`
	Question    string    `json:"question"`
	YesTokenID  string    `json:"yes_token_id"`
	NoTokenID   string    `json:"no_token_id"`
	EndDate     time.Time `json:"end_date"`
	Closed      bool      `json:"closed"`
	Resolved    bool      `json:"resolved"`
}

// TokenFor maps an outcome to its CLOB token id.
func (m *Market) TokenFor(outcome model.Outcome) string {
	if outcome == model.OutcomeNo {
		return m.NoTokenID
	}
	return m.YesTokenID
}

// GammaClient is the market-discovery and resolution-status collaborator,
// backed by Polymarket's Gamma REST API.
type GammaClient struct {
	baseURL string
	httpc   *http.Client
}

func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: 10 * time.Second,
		},
	}
}

// gammaMarket mirrors the fields we need from the Gamma payload.
// clobTokenIds arrives as a JSON string containing a JSON array.
type gammaMarket struct {
	ConditionID  string `json:"conditionId"`
	Slug         string `json:"slug"`
	Question     string `json:"question"`
	ClobTokenIDs string `json:"clobTokenIds"`
	EndDate      string `json:"endDate"`
	Closed       bool   `json:"closed"`
	UmaStatus    string `json:"umaResolutionStatus"`
}

// Resolve finds the currently tradable market for a currency/timeframe
// pair using Polymarket's deterministic up-or-down slug scheme.
func (g *GammaClient) Resolve(ctx context.Context, currency, timeframe string) (*Market, error) {
	slug, err := SlugFor(currency, timeframe, time.Now())
	if err != nil {
		return nil, err
	}
	markets, err := g.fetchMarkets(ctx, url.Values{"slug": []string{slug}})
	if err != nil {
		return nil, err
	}
	if len(markets) == 0 {
		return nil, fmt.Errorf("no market found for slug %q", slug)
	}
	m := markets[0]
	if m.Closed {
		return nil, fmt.Errorf("market %q already closed", slug)
	}
	return g.toMarket(m)
}

// ResolutionStatus reports whether a market has resolved.
func (g *GammaClient) ResolutionStatus(ctx context.Context, conditionID string) (bool, error) {
	markets, err := g.fetchMarkets(ctx, url.Values{"condition_ids": []string{conditionID}})
	if err != nil {
		return false, err
	}
	if len(markets) == 0 {
		return false, fmt.Errorf("market %s not found", conditionID)
	}
	m := markets[0]
	return m.Closed && strings.EqualFold(m.UmaStatus, "resolved"), nil
}

func (g *GammaClient) fetchMarkets(ctx context.Context, query url.Values) ([]gammaMarket, error) {
	u := g.baseURL + "/markets?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gamma api status %d", resp.StatusCode)
	}
	var markets []gammaMarket
	if err := json.NewDecoder(resp.Body).Decode(&markets); err != nil {
		return nil, fmt.Errorf("decode gamma response: %w", err)
	}
	return markets, nil
}

func (g *GammaClient) toMarket(m gammaMarket) (*Market, error) {
	var tokenIDs []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &tokenIDs); err != nil {
		return nil, fmt.Errorf("parse clobTokenIds for %s: %w", m.Slug, err)
	}
	if len(tokenIDs) < 2 {
		return nil, fmt.Errorf("market %s has %d outcome tokens", m.Slug, len(tokenIDs))
	}
	endDate, _ := time.Parse(time.RFC3339, m.EndDate)
	return &Market{
		ConditionID: m.ConditionID,
		Slug:        m.Slug,
		Question:    m.Question,
		YesTokenID:  tokenIDs[0],
		NoTokenID:   tokenIDs[1],
		EndDate:     endDate,
		Closed:      m.Closed,
		Resolved:    strings.EqualFold(m.UmaStatus, "resolved"),
	}, nil
}

var currencySlugs = map[string]string{
	"BTC": "bitcoin",
	"ETH": "ethereum",
	"SOL": "solana",
	"XRP": "xrp",
}

// SlugFor builds the up-or-down market slug for the window containing now.
// Hourly markets look like "bitcoin-up-or-down-august-31-3pm-et"; daily
// markets drop the hour suffix.
func SlugFor(currency, timeframe string, now time.Time) (string, error) {
	name, ok := currencySlugs[strings.ToUpper(currency)]
	if !ok {
		return "", fmt.Errorf("unsupported currency %q", currency)
	}

	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return "", err
	}
	t := now.In(et)
	month := strings.ToLower(t.Month().String())

	switch strings.ToLower(timeframe) {
	case "1h", "hourly":
		hour := t.Hour() % 12
		if hour == 0 {
			hour = 12
		}
		ampm := "am"
		if t.Hour() >= 12 {
			ampm = "pm"
		}
		return fmt.Sprintf("%s-up-or-down-%s-%d-%d%s-et", name, month, t.Day(), hour, ampm), nil
	case "1d", "daily":
		return fmt.Sprintf("%s-up-or-down-%s-%d", name, month, t.Day()), nil
	default:
		return "", fmt.Errorf("unsupported timeframe %q", timeframe)
	}
}
