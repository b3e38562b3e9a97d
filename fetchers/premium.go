package fetchers

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

const premiumBaseURL = "https://api.folionet.io/v1"

// PremiumAPI validates the user's paid-tier credentials against the premium
// service.
type PremiumAPI struct {
	client    *Client
	baseURL   string
	apiKey    string
	apiSecret string
}

// NewPremiumAPI creates the premium client. Key and secret come from the
// configuration.
func NewPremiumAPI(client *Client, apiKey, apiSecret string) *PremiumAPI {
	return &PremiumAPI{
		client:    client,
		baseURL:   premiumBaseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
	}
}

// Refresh re-validates the credentials. An invalid or expired subscription is
// reported as an error; callers downgrade gracefully.
func (a *PremiumAPI) Refresh(ctx context.Context) error {
	url := fmt.Sprintf("%s/subscription?key=%s&secret=%s", a.baseURL, a.apiKey, a.apiSecret)
	var response struct {
		Valid     bool   `json:"valid"`
		ExpiresAt int64  `json:"expires_at"`
		Tier      string `json:"tier"`
	}
	if err := a.client.GetJSON(ctx, url, &response); err != nil {
		return err
	}
	if !response.Valid {
		return errors.New("premium subscription is not valid")
	}
	log.Debugf("Premium subscription refreshed (tier %s, expires %d)", response.Tier, response.ExpiresAt)
	return nil
}
