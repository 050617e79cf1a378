package provider

import "github.com/sakif/social-insights/internal/model"

var youtube = &shape{
	platform:  model.PlatformYouTube,
	followers: []string{"statistics.subscriberCount", "subscriberCount", "subscribers"},
	likes:     []string{"statistics.likeCount", "likeCount", "likes"},
	comments:  []string{"statistics.commentCount", "commentCount", "comments"},
	shares:    []string{"statistics.shareCount", "shareCount", "shares"},
	views:     []string{"statistics.viewCount", "viewCount", "views"},
	extend:    youtubeChannels,
}

// youtubeChannels keeps the owned channels with their statistics. Data API
// responses ("items") and previously persisted accounts ("channels") both
// work.
func youtubeChannels(acc *model.ConnectedAccount, raw model.RawAccount) error {
	for _, c := range List(raw, "channels", "items") {
		ch := model.Channel{
			ID:              Str(c, "id"),
			Title:           Str(c, "title", "snippet.title"),
			Description:     Str(c, "description", "snippet.description"),
			ThumbnailURL:    Str(c, "thumbnailUrl", "snippet.thumbnails.high.url", "snippet.thumbnails.default.url"),
			SubscriberCount: Count(c, "subscriberCount", "statistics.subscriberCount"),
			VideoCount:      Count(c, "videoCount", "statistics.videoCount"),
			ViewCount:       Count(c, "viewCount", "statistics.viewCount"),
		}
		if ch.ID != "" {
			acc.Channels = append(acc.Channels, ch)
		}
	}
	if acc.Profile.Name == "" && len(acc.Channels) > 0 {
		acc.Profile.Name = acc.Channels[0].Title
	}
	return nil
}
