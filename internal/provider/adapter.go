// Package provider turns provider-shaped payloads into canonical types.
//
// Every platform reports the same concepts under different field names
// (a Facebook like count lives in likes.summary.total_count, a YouTube one in
// statistics.likeCount, an X one in public_metrics.like_count). Instead of
// sniffing shapes inline wherever a number is needed, each platform gets one
// Adapter that knows its own shapes. Callers pick the adapter by platform:
//
//	a, ok := provider.For(model.PlatformLinkedIn)
//	acc, err := a.NormalizeAccount(raw, now)
package provider

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sakif/social-insights/internal/apperror"
	"github.com/sakif/social-insights/internal/model"
)

// Adapter is the per-platform strategy.
type Adapter interface {
	Platform() model.Platform
	// NormalizeAccount maps a raw payload into a ConnectedAccount.
	NormalizeAccount(raw model.RawAccount, now time.Time) (model.ConnectedAccount, error)
	// Followers reads the audience size from an account-info payload.
	Followers(info map[string]any) int64
	// Post reads one post payload. Missing counts are 0.
	Post(raw map[string]any) model.Post
}

var adapters = map[model.Platform]Adapter{
	model.PlatformFacebook:  facebook,
	model.PlatformInstagram: instagram,
	model.PlatformYouTube:   youtube,
	model.PlatformLinkedIn:  linkedin,
	model.PlatformTwitter:   twitter,
}

// For returns the adapter of platform.
func For(p model.Platform) (Adapter, bool) {
	a, ok := adapters[p]
	return a, ok
}

// Normalize dispatches on the payload's own "platform" field.
func Normalize(raw model.RawAccount, now time.Time) (model.ConnectedAccount, error) {
	p, ok := model.ParsePlatform(Str(raw, "platform"))
	if !ok {
		return model.ConnectedAccount{}, apperror.ValidationFailed("platform",
			fmt.Sprintf("unsupported platform %q", Str(raw, "platform")))
	}
	a, _ := For(p)
	return a.NormalizeAccount(raw, now)
}

// shape is the data-driven part of an adapter: which paths carry which
// concept on one platform. extend adds the platform's subordinate entities.
type shape struct {
	platform  model.Platform
	followers []string
	likes     []string
	comments  []string
	shares    []string
	views     []string
	extend    func(acc *model.ConnectedAccount, raw model.RawAccount) error
}

var _ Adapter = (*shape)(nil)

func (s *shape) Platform() model.Platform { return s.platform }

// followers_count is read first on every platform; the fallbacks follow.
func (s *shape) Followers(info map[string]any) int64 {
	return Count(info, append([]string{"followers_count"}, s.followers...)...)
}

var (
	postIDPaths   = []string{"id", "postId", "urn", "id_str"}
	postTimePaths = []string{"created_time", "createdAt", "created_at", "timestamp", "publishedAt", "snippet.publishedAt", "created.time"}
)

func (s *shape) Post(raw map[string]any) model.Post {
	created, _ := Time(raw, postTimePaths...)
	return model.Post{
		ID:        Str(raw, postIDPaths...),
		Platform:  s.platform,
		CreatedAt: created,
		Likes:     Count(raw, s.likes...),
		Comments:  Count(raw, s.comments...),
		Shares:    Count(raw, s.shares...),
		Views:     Count(raw, s.views...),
	}
}

// orgPattern extracts the numeric id from identifiers such as
// "urn:li:organization:12345" or "organization_12345".
var orgPattern = regexp.MustCompile(`(?i)organization[:_/](\d+)`)

var (
	orgValues      = map[string]bool{"organization": true, "organisation": true, "company": true, "page": true, "business": true, "brand": true}
	personalValues = map[string]bool{"personal": true, "person": true, "user": true, "member": true, "profile": true}
)

// accountType resolves personal vs organization. An explicit discriminator
// wins; identifier markers are the legacy fallback; personal is the default.
func accountType(raw model.RawAccount, identifiers ...string) model.AccountType {
	if v := strings.ToLower(Str(raw, "accountType", "account_type", "type")); v != "" {
		switch {
		case orgValues[v]:
			return model.AccountTypeOrganization
		case personalValues[v]:
			return model.AccountTypePersonal
		}
	}
	if isOrg, ok := Bool(raw, "isOrganization", "is_organization"); ok {
		if isOrg {
			return model.AccountTypeOrganization
		}
		return model.AccountTypePersonal
	}
	for _, id := range identifiers {
		lower := strings.ToLower(id)
		if strings.Contains(lower, "organization") || strings.Contains(lower, "page") {
			return model.AccountTypeOrganization
		}
	}
	return model.AccountTypePersonal
}

func organizationID(raw model.RawAccount, platform model.Platform, identifiers ...string) string {
	if id := Str(raw, "organizationId", "organization_id", "orgId"); id != "" {
		return strings.TrimPrefix(id, string(platform)+"_")
	}
	for _, id := range identifiers {
		if m := orgPattern.FindStringSubmatch(id); m != nil {
			return m[1]
		}
	}
	return ""
}

func tokenType(raw model.RawAccount) model.TokenType {
	switch t := model.TokenType(Str(raw, "tokenType", "token_type")); t {
	case model.TokenShortLived, model.TokenLongLived, model.TokenNeverExpiringPage:
		return t
	}
	return model.TokenShortLived
}

func tokenStatus(raw model.RawAccount) model.TokenStatus {
	switch s := model.TokenStatus(Str(raw, "tokenStatus")); s {
	case model.TokenActive, model.TokenInvalidUserToken, model.TokenInvalidPageToken, model.TokenExpired:
		return s
	}
	return model.TokenActive
}

func (s *shape) NormalizeAccount(raw model.RawAccount, now time.Time) (model.ConnectedAccount, error) {
	rawID := Str(raw, "id", "userId", "user_id", "sub", "accountId")
	urn := Str(raw, "urn", "organizationUrn", "entityUrn")
	identifiers := []string{rawID, urn}

	acc := model.ConnectedAccount{
		Platform:    s.platform,
		AccountType: accountType(raw, identifiers...),
		Token:       Str(raw, "token", "accessToken", "access_token"),
		TokenType:   tokenType(raw),
		Profile:     profile(raw),
		Pages:       []model.Page{},
		Channels:    []model.Channel{},
		TokenStatus: tokenStatus(raw),
	}

	if acc.AccountType == model.AccountTypeOrganization {
		orgID := organizationID(raw, s.platform, identifiers...)
		if orgID == "" {
			orgID = strings.TrimPrefix(rawID, string(s.platform)+"_")
		}
		if orgID == "" {
			return model.ConnectedAccount{}, apperror.ValidationFailed("organizationId",
				fmt.Sprintf("%s organization account has no identifier", s.platform))
		}
		acc.OrganizationID = orgID
		acc.ID = string(s.platform) + "_" + orgID
	} else {
		if rawID == "" {
			return model.ConnectedAccount{}, apperror.ValidationFailed("id",
				fmt.Sprintf("%s account has no identifier", s.platform))
		}
		acc.ID = rawID
	}

	if t, ok := Time(raw, "tokenExpiresAt", "expiresAt", "expires_at"); ok {
		acc.TokenExpiresAt = &t
	} else if secs := Count(raw, "expiresIn", "expires_in"); secs > 0 {
		t := now.Add(time.Duration(secs) * time.Second).UTC()
		acc.TokenExpiresAt = &t
	}

	acc.ConnectedAt = now.UTC()
	if t, ok := Time(raw, "connectedAt"); ok {
		acc.ConnectedAt = t
	}
	acc.LastRefreshed = acc.ConnectedAt
	if t, ok := Time(raw, "lastRefreshed"); ok {
		acc.LastRefreshed = t
	}
	acc.NeedsReconnection, _ = Bool(raw, "needsReconnection")
	if msg := Str(raw, "refreshError"); msg != "" {
		acc.RefreshError = &msg
	}

	if s.extend != nil {
		if err := s.extend(&acc, raw); err != nil {
			return model.ConnectedAccount{}, err
		}
	}
	return acc, nil
}

func profile(raw model.RawAccount) model.Profile {
	p := model.Profile{
		Name:       Str(raw, "profile.name", "name", "localizedName", "displayName", "title", "snippet.title", "username"),
		Headline:   Str(raw, "profile.headline", "headline", "localizedHeadline", "description", "about", "snippet.description"),
		Email:      Str(raw, "profile.email", "email", "emailAddress"),
		PictureURL: Str(raw, "profile.pictureUrl", "pictureUrl", "picture.data.url", "picture", "profile_picture_url", "profile_image_url", "logoUrl", "snippet.thumbnails.default.url"),
	}
	if p.Name == "" {
		first := Str(raw, "localizedFirstName", "given_name", "firstName")
		last := Str(raw, "localizedLastName", "family_name", "lastName")
		p.Name = strings.TrimSpace(first + " " + last)
	}
	return p
}

func validationNoPage() error {
	return apperror.ValidationFailed("pages", "no admin page found for this account")
}
