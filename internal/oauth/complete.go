package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/social-insights/internal/apperror"
	"github.com/sakif/social-insights/internal/gateway"
	"github.com/sakif/social-insights/internal/model"
)

// ProfileFetcher loads the raw profile that belongs to a fresh token.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, platform model.Platform, accessToken string) (model.RawAccount, error)
}

// Complete handles the provider redirect of the popup: it exchanges the
// code, loads the profile and resolves the session through the platform's
// channel. The returned Message is what the callback page relays.
//
// errParam is the provider's "error" query parameter (access_denied when the
// user refused consent).
func (b *Broker) Complete(ctx context.Context, platform model.Platform, state, code, errParam string) (Message, error) {
	b.mu.Lock()
	s, ok := b.pending[state]
	b.mu.Unlock()
	if !ok {
		return Message{}, apperror.NotFound("oauth session", state)
	}
	if s.info.Platform != platform {
		return Message{}, apperror.ValidationFailed("platform",
			fmt.Sprintf("session %s belongs to %s, not %s", state, s.info.Platform, platform))
	}

	msg := b.exchange(ctx, s, code, errParam)

	if s.provider.Channel == ChannelPoll {
		if err := b.sessions.Put(ctx, state, msg); err != nil {
			return msg, fmt.Errorf("oauth: recording session %s: %w", state, err)
		}
		return msg, nil
	}
	return msg, b.Deliver(msg)
}

func (b *Broker) exchange(ctx context.Context, s *session, code, errParam string) Message {
	msg := Message{Source: MessageSource, State: s.info.CorrelationID}
	platform := s.info.Platform

	if errParam != "" {
		msg.Error = errParam
		return msg
	}
	if code == "" {
		msg.Error = "authorization response had no code"
		return msg
	}

	var opts []oauth2.AuthCodeOption
	if s.verifier != "" {
		opts = append(opts, oauth2.VerifierOption(s.verifier))
	}
	tok, err := s.provider.OAuth.Exchange(ctx, code, opts...)
	if err != nil {
		b.logger.Warn("oauth: code exchange failed",
			slog.String("platform", string(platform)),
			slog.String("error", err.Error()),
		)
		msg.Error = "could not exchange the authorization code"
		return msg
	}

	if b.profiles == nil {
		msg.Error = "no profile source configured"
		return msg
	}
	profile, err := b.profiles.FetchProfile(ctx, platform, tok.AccessToken)
	if err != nil {
		b.logger.Warn("oauth: profile fetch failed",
			slog.String("platform", string(platform)),
			slog.String("error", err.Error()),
		)
		msg.Error = "could not load the account profile"
		return msg
	}

	profile["tokenType"] = string(model.TokenShortLived)
	if !tok.Expiry.IsZero() {
		profile["tokenExpiresAt"] = tok.Expiry.UTC().Format(time.RFC3339)
	}
	msg.Success = true
	msg.Token = tok.AccessToken
	msg.Profile = profile
	return msg
}

// GatewayProfiles fetches profiles from the provider APIs, falling back to
// the backend proxy path /social/{platform}/me.
type GatewayProfiles struct {
	gw *gateway.Client
}

var _ ProfileFetcher = (*GatewayProfiles)(nil)

func NewGatewayProfiles(gw *gateway.Client) *GatewayProfiles {
	return &GatewayProfiles{gw: gw}
}

var profileURLs = map[model.Platform]string{
	model.PlatformFacebook:  "https://graph.facebook.com/v19.0/me?fields=" + url.QueryEscape("id,name,email,picture{url},accounts{id,name,category,access_token,fan_count}"),
	model.PlatformInstagram: "https://graph.instagram.com/me?fields=" + url.QueryEscape("id,username,account_type,profile_picture_url,followers_count"),
	model.PlatformYouTube:   "https://www.googleapis.com/youtube/v3/channels?part=snippet,statistics&mine=true",
	model.PlatformLinkedIn:  "https://api.linkedin.com/v2/userinfo",
	model.PlatformTwitter:   "https://api.twitter.com/2/users/me?user.fields=profile_image_url,public_metrics,description",
}

func (g *GatewayProfiles) FetchProfile(ctx context.Context, platform model.Platform, accessToken string) (model.RawAccount, error) {
	ep := gateway.Endpoint{
		Absolute: profileURLs[platform],
		Relative: "/social/" + string(platform) + "/me",
	}
	res := g.gw.Get(ctx, ep, accessToken)
	if err := res.AsError(); err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := res.Decode(&raw); err != nil {
		return nil, err
	}
	// X wraps the user in {"data": {...}}.
	if inner, ok := raw["data"].(map[string]any); ok && platform == model.PlatformTwitter {
		raw = inner
	}
	// YouTube answers with a channel list; the first channel is the identity.
	if platform == model.PlatformYouTube {
		if items, ok := raw["items"].([]any); ok && len(items) > 0 {
			if first, ok := items[0].(map[string]any); ok {
				raw["id"] = first["id"]
			}
		}
	}
	return model.RawAccount(raw), nil
}
