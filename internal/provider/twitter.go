package provider

import "github.com/sakif/social-insights/internal/model"

// twitter also serves X; ParsePlatform maps "x" here.
var twitter = &shape{
	platform:  model.PlatformTwitter,
	followers: []string{"public_metrics.followers_count", "followersCount"},
	likes:     []string{"public_metrics.like_count", "favorite_count", "like_count", "likes"},
	comments:  []string{"public_metrics.reply_count", "reply_count", "replies"},
	shares:    []string{"public_metrics.retweet_count", "retweet_count", "retweets"},
	views:     []string{"public_metrics.impression_count", "non_public_metrics.impression_count", "impression_count", "views"},
}
