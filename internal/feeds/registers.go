package feeds

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/fetcher"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/model"
	"github.com/steve-dickinson/agentic-environmental-intelligence/internal/resilience"
)

// RegisterClient searches the public registers for permits near a grid
// reference.
type RegisterClient struct {
	fetcher    fetcher.Fetcher
	baseURL    string
	breaker    *resilience.CircuitBreaker
	maxPermits int
}

// NewRegisterClient creates a RegisterClient. A nil breaker disables circuit
// breaking; maxPermits <= 0 keeps every result.
func NewRegisterClient(f fetcher.Fetcher, baseURL string, breaker *resilience.CircuitBreaker, maxPermits int) *RegisterClient {
	return &RegisterClient{
		fetcher:    f,
		baseURL:    strings.TrimRight(baseURL, "/"),
		breaker:    breaker,
		maxPermits: maxPermits,
	}
}

// PermitsNear returns up to maxPermits registrations within radiusKM of the
// British National Grid point (easting, northing), in register order.
func (c *RegisterClient) PermitsNear(ctx context.Context, easting, northing int, radiusKM float64) ([]model.Permit, error) {
	u := fmt.Sprintf("%s/api/search.csv?easting=%d&northing=%d&dist=%s",
		c.baseURL, easting, northing, strconv.FormatFloat(radiusKM, 'f', -1, 64))

	search := func(ctx context.Context) ([]model.Permit, error) {
		return c.search(ctx, u)
	}
	if c.breaker == nil {
		return search(ctx)
	}
	return resilience.ExecuteVal(ctx, c.breaker, search)
}

func (c *RegisterClient) search(ctx context.Context, u string) ([]model.Permit, error) {
	body, err := c.fetcher.Download(ctx, u)
	if err != nil {
		return nil, eris.Wrap(err, "feeds: permit search")
	}
	defer body.Close() //nolint:errcheck

	recCh, errCh := fetcher.StreamRecords(ctx, body, fetcher.CSVOptions{
		TrimSpace:  true,
		LazyQuotes: true,
	})

	var permits []model.Permit
	for rec := range recCh {
		if c.maxPermits > 0 && len(permits) >= c.maxPermits {
			continue
		}
		permits = append(permits, permitFromRecord(rec))
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "feeds: parse permit csv")
	}
	return permits, nil
}

// permitFromRecord maps one search.csv row, taking the first non-empty of
// each column group.
func permitFromRecord(rec fetcher.Record) model.Permit {
	p := model.Permit{
		PermitID:         rec.First("registrationNumber", "@id"),
		OperatorName:     rec.First("holder.name"),
		RegisterLabel:    rec.First("register.label"),
		RegistrationType: rec.First("registrationType.label", "exemption.registrationType.notation"),
		SiteAddress:      rec.First("site.siteAddress.address"),
		SitePostcode:     rec.First("site.siteAddress.postcode"),
	}
	if p.OperatorName == "" {
		p.OperatorName = "Unknown operator"
	}
	if d, err := strconv.ParseFloat(rec.First("distance"), 64); err == nil {
		p.DistanceKm = model.Float(d)
	}
	return p
}
