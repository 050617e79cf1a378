package provider

import "github.com/sakif/social-insights/internal/model"

var facebook = &shape{
	platform:  model.PlatformFacebook,
	followers: []string{"fan_count", "followersCount"},
	likes:     []string{"likes.summary.total_count", "reactions.summary.total_count", "like_count", "likeCount", "likes"},
	comments:  []string{"comments.summary.total_count", "comments_count", "commentCount", "comments"},
	shares:    []string{"shares.count", "share_count", "shareCount", "shares"},
	views:     []string{"insights.impressions", "post_impressions", "impressions", "video_views", "views"},
	extend:    facebookPages,
}

// facebookPages keeps every managed page with its own page-scoped token.
// An organization account must come with a token or at least one page.
func facebookPages(acc *model.ConnectedAccount, raw model.RawAccount) error {
	for _, p := range List(raw, "pages", "accounts.data", "accounts") {
		page := model.Page{
			ID:             Str(p, "id"),
			Name:           Str(p, "name"),
			Category:       Str(p, "category"),
			AccessToken:    Str(p, "accessToken", "access_token"),
			TokenType:      model.TokenType(Str(p, "tokenType")),
			PictureURL:     Str(p, "pictureUrl", "picture.data.url", "picture"),
			FollowersCount: Count(p, "followersCount", "followers_count", "fan_count"),
		}
		if page.ID == "" {
			continue
		}
		if page.TokenType == "" && page.AccessToken != "" {
			page.TokenType = model.TokenShortLived
		}
		acc.Pages = append(acc.Pages, page)
	}

	if acc.AccountType == model.AccountTypeOrganization && acc.Token == "" && len(acc.Pages) == 0 {
		return validationNoPage()
	}
	return nil
}
