package provider

import "github.com/sakif/social-insights/internal/model"

var linkedin = &shape{
	platform:  model.PlatformLinkedIn,
	followers: []string{"firstDegreeSize", "followerCount", "followersCount", "followerCounts.organicFollowerCount", "totalFollowerCount"},
	likes:     []string{"likeCount", "totalShareStatistics.likeCount", "likesSummary.totalLikes", "likes"},
	comments:  []string{"commentCount", "totalShareStatistics.commentCount", "commentsSummary.totalFirstLevelComments", "comments"},
	shares:    []string{"shareCount", "totalShareStatistics.shareCount", "repostCount", "shares"},
	views:     []string{"impressionCount", "totalShareStatistics.impressionCount", "impressions", "views"},
}
