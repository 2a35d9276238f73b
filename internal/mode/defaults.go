package mode

// defaultModes are the built-in profiles seeded on first run. Allowed apps
// start empty; users fill them in directly or via AI categorization.
func defaultModes() []Mode {
	return []Mode{
		{
			Name:        "productivity",
			Description: "Work, coding, writing, and business tasks.",
			BlockedSites: []string{
				"facebook.com", "twitter.com", "instagram.com", "tiktok.com",
				"reddit.com", "youtube.com", "netflix.com", "twitch.tv",
				"discord.com",
			},
		},
		{
			Name:        "creativity",
			Description: "Design, music, video editing, art, and writing.",
			BlockedSites: []string{
				"facebook.com", "twitter.com", "instagram.com", "tiktok.com",
				"reddit.com", "twitch.tv", "discord.com",
			},
		},
		{
			Name:        "social",
			Description: "Social media detox: everything except social media, games, and streaming.",
			BlockedSites: []string{
				"facebook.com", "twitter.com", "instagram.com", "tiktok.com",
				"reddit.com", "youtube.com", "netflix.com", "twitch.tv",
				"discord.com", "steam.com", "amazon.com",
			},
		},
	}
}
