package models

// TrustLevelConfig maps one trust level to the quotas and permissions it
// grants. The table is static: loaded once at process start, read-only
// afterwards.
type TrustLevelConfig struct {
	Level              int      `json:"level"`
	DailyConversations int      `json:"daily_conversations"`
	DailyImages        int      `json:"daily_images"`
	Permissions        []string `json:"permissions"`
}

// TrustLevelTable holds the configs for levels 0-4.
type TrustLevelTable struct {
	Levels map[int]TrustLevelConfig `json:"levels"`
}

// DefaultTrustLevels returns the built-in quota table. Level 0 has no access.
func DefaultTrustLevels() *TrustLevelTable {
	return &TrustLevelTable{
		Levels: map[int]TrustLevelConfig{
			0: {Level: 0, DailyConversations: 0, DailyImages: 0, Permissions: []string{}},
			1: {Level: 1, DailyConversations: 40, DailyImages: 5, Permissions: []string{"chat"}},
			2: {Level: 2, DailyConversations: 80, DailyImages: 10, Permissions: []string{"chat", "image"}},
			3: {Level: 3, DailyConversations: 150, DailyImages: 20, Permissions: []string{"chat", "image", "export"}},
			4: {Level: 4, DailyConversations: 300, DailyImages: 40, Permissions: []string{"chat", "image", "export", "shared_key"}},
		},
	}
}

// LimitFor returns the daily quota for a trust level and usage type.
// Unknown levels get no access, same as level 0.
func (t *TrustLevelTable) LimitFor(level int, usageType UsageType) int {
	cfg, ok := t.Levels[level]
	if !ok {
		return 0
	}
	switch usageType {
	case UsageImage:
		return cfg.DailyImages
	default:
		return cfg.DailyConversations
	}
}

// HasPermission reports whether a trust level carries a named permission.
func (t *TrustLevelTable) HasPermission(level int, perm string) bool {
	cfg, ok := t.Levels[level]
	if !ok {
		return false
	}
	for _, p := range cfg.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
