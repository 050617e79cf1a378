package provider

import "github.com/sakif/social-insights/internal/model"

var instagram = &shape{
	platform:  model.PlatformInstagram,
	followers: []string{"followersCount", "followers"},
	likes:     []string{"like_count", "likeCount", "likes"},
	comments:  []string{"comments_count", "commentCount", "comments"},
	shares:    []string{"share_count", "shareCount", "shares"},
	views:     []string{"insights.impressions", "impressions", "plays", "video_views", "reach", "views"},
}
