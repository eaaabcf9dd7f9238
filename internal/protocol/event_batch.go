package protocol

// Event names emitted by the realm for external consumers.
const (
	EvWeatherUpdated      = "WEATHER_UPDATED"
	EvAssetMinted         = "ASSET_MINTED"
	EvAssetEvolved        = "ASSET_EVOLVED"
	EvQuestCreated        = "QUEST_CREATED"
	EvQuestCompleted      = "QUEST_COMPLETED"
	EvQuestRetired        = "QUEST_RETIRED"
	EvAchievementCreated  = "ACHIEVEMENT_CREATED"
	EvAchievementUnlocked = "ACHIEVEMENT_UNLOCKED"
	EvPoolFunded          = "POOL_FUNDED"
)

// Event is the wire shape of one realm event. Fields beyond Name are
// event-specific; unused ones are omitted.
type Event struct {
	Name string `json:"name"`

	Zone      int    `json:"zone,omitempty"`
	Weather   string `json:"weather,omitempty"`
	Intensity int    `json:"intensity,omitempty"`
	Sequence  uint64 `json:"sequence,omitempty"`

	Player  string `json:"player,omitempty"`
	QuestID string `json:"quest_id,omitempty"`
	Tokens  uint64 `json:"tokens,omitempty"`

	TokenID  uint64 `json:"token_id,omitempty"`
	Owner    string `json:"owner,omitempty"`
	Category string `json:"category,omitempty"`
	Rarity   string `json:"rarity,omitempty"`
	Stage    int    `json:"stage,omitempty"`
	Aspect   string `json:"aspect,omitempty"`

	AchievementID string `json:"achievement_id,omitempty"`
}

// EVENT_BATCH_REQ (client -> server)
type EventBatchReqMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	SinceCursor     uint64 `json:"since_cursor"`
	Limit           int    `json:"limit"`
}

type EventBatchItem struct {
	Cursor uint64 `json:"cursor"`
	Event  Event  `json:"event"`
}

// EVENT_BATCH (server -> client)
type EventBatchMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	ReqID           string           `json:"req_id"`
	Events          []EventBatchItem `json:"events"`
	NextCursor      uint64           `json:"next_cursor"`
}
