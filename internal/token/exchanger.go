package token

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sakif/social-insights/internal/gateway"
	"github.com/sakif/social-insights/internal/model"
	"github.com/sakif/social-insights/internal/provider"
)

// HTTPExchanger calls the backend-proxied exchange endpoints:
//
//	POST /social/token/long-lived {platform, accessToken}
//	POST /social/token/page       {platform, accessToken, pageId}
//
// The token being exchanged also goes in the Authorization header.
type HTTPExchanger struct {
	gw  *gateway.Client
	now func() time.Time
}

var _ Exchanger = (*HTTPExchanger)(nil)

func NewHTTPExchanger(gw *gateway.Client) *HTTPExchanger {
	return &HTTPExchanger{gw: gw, now: time.Now}
}

func (e *HTTPExchanger) LongLived(ctx context.Context, platform model.Platform, accessToken string) (Grant, error) {
	body := map[string]string{"platform": string(platform), "accessToken": accessToken}
	grant, err := e.exchange(ctx, "/social/token/long-lived", accessToken, body)
	if err != nil {
		return Grant{}, err
	}
	return grant, nil
}

func (e *HTTPExchanger) PageToken(ctx context.Context, platform model.Platform, userToken, pageID string) (Grant, error) {
	body := map[string]string{"platform": string(platform), "accessToken": userToken, "pageId": pageID}
	grant, err := e.exchange(ctx, "/social/token/page", userToken, body)
	if err != nil {
		return Grant{}, err
	}
	grant.ExpiresAt = nil
	return grant, nil
}

func (e *HTTPExchanger) exchange(ctx context.Context, path, bearer string, body any) (Grant, error) {
	res := e.gw.Do(ctx, gateway.Request{
		Method:   http.MethodPost,
		Endpoint: e.gw.At(path),
		Body:     body,
		Token:    bearer,
	})
	if err := res.AsError(); err != nil {
		return Grant{}, err
	}

	var payload map[string]any
	if err := res.Decode(&payload); err != nil {
		return Grant{}, err
	}
	// Some proxies wrap the provider answer in {"data": {...}}.
	if inner, ok := payload["data"].(map[string]any); ok {
		payload = inner
	}

	grant := Grant{AccessToken: provider.Str(payload, "accessToken", "access_token")}
	if grant.AccessToken == "" {
		return Grant{}, fmt.Errorf("token: %s returned no access token", path)
	}
	if t, ok := provider.Time(payload, "expiresAt", "expires_at"); ok {
		grant.ExpiresAt = &t
	} else if secs := provider.Count(payload, "expiresIn", "expires_in"); secs > 0 {
		t := e.now().Add(time.Duration(secs) * time.Second).UTC()
		grant.ExpiresAt = &t
	}
	return grant, nil
}
