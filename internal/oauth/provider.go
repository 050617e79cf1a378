package oauth

import (
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/sakif/social-insights/internal/model"
)

// Channel is how a finished authorization reaches the broker.
type Channel int

const (
	// ChannelMessage: the callback page posts a tagged message (Deliver).
	ChannelMessage Channel = iota
	// ChannelPoll: the callback writes a session record the broker polls.
	ChannelPoll
)

func (c Channel) String() string {
	if c == ChannelPoll {
		return "poll"
	}
	return "message"
}

// ProviderConfig describes one platform's authorization server.
type ProviderConfig struct {
	Platform model.Platform
	OAuth    oauth2.Config
	Channel  Channel
	// PKCE adds an S256 code challenge; X requires it.
	PKCE bool
}

// Credentials are the app registration of one platform.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// twitterEndpoint is not in x/oauth2/endpoints.
var twitterEndpoint = oauth2.Endpoint{
	AuthURL:   "https://twitter.com/i/oauth2/authorize",
	TokenURL:  "https://api.twitter.com/2/oauth2/token",
	AuthStyle: oauth2.AuthStyleInHeader,
}

// DefaultProvider returns the standard configuration of platform.
func DefaultProvider(platform model.Platform, creds Credentials) (ProviderConfig, error) {
	cfg := ProviderConfig{
		Platform: platform,
		OAuth: oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURL,
		},
	}

	switch platform {
	case model.PlatformFacebook:
		cfg.OAuth.Endpoint = endpoints.Facebook
		cfg.OAuth.Scopes = []string{"public_profile", "email", "pages_show_list", "pages_read_engagement", "read_insights"}
	case model.PlatformInstagram:
		cfg.OAuth.Endpoint = endpoints.Instagram
		cfg.OAuth.Scopes = []string{"instagram_business_basic", "instagram_business_manage_insights"}
	case model.PlatformYouTube:
		cfg.OAuth.Endpoint = endpoints.Google
		cfg.OAuth.Scopes = []string{"https://www.googleapis.com/auth/youtube.readonly", "https://www.googleapis.com/auth/yt-analytics.readonly"}
	case model.PlatformLinkedIn:
		cfg.OAuth.Endpoint = endpoints.LinkedIn
		cfg.OAuth.Scopes = []string{"openid", "profile", "email", "r_organization_social", "rw_organization_admin"}
		cfg.Channel = ChannelPoll
	case model.PlatformTwitter:
		cfg.OAuth.Endpoint = twitterEndpoint
		cfg.OAuth.Scopes = []string{"tweet.read", "users.read", "offline.access"}
		cfg.Channel = ChannelPoll
		cfg.PKCE = true
	default:
		return ProviderConfig{}, fmt.Errorf("oauth: no provider for platform %q", platform)
	}
	return cfg, nil
}
