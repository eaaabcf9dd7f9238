package protocol

import "encoding/json"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	ClientName      string     `json:"client_name"`
	Auth            *HelloAuth `json:"auth,omitempty"`
}

// HelloAuth carries the caller identity. The realm decides per operation
// whether the identity is allowed; the transport never does.
type HelloAuth struct {
	Identity string `json:"identity,omitempty"`
	Token    string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	Identity        string      `json:"identity"`
	RealmParams     RealmParams `json:"realm_params"`
	Zones           []ZoneRef   `json:"zones"`
	Catalogs        CatalogRefs `json:"catalogs"`
	EventCursor     uint64      `json:"event_cursor"`
}

type RealmParams struct {
	RealmID   string `json:"realm_id"`
	ZoneCount int    `json:"zone_count"`
}

type ZoneRef struct {
	Zone  int    `json:"zone"`
	Name  string `json:"name,omitempty"`
	Biome string `json:"biome,omitempty"`
}

type CatalogRefs struct {
	QuestsDigest       string `json:"quests_digest,omitempty"`
	AchievementsDigest string `json:"achievements_digest,omitempty"`
	RarityDigest       string `json:"rarity_digest,omitempty"`
}

// ACT (client -> server): one realm operation. Fields beyond Op are
// op-specific and left zero for the rest.
type ActMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ActID           string `json:"act_id"`
	Op              string `json:"op"`

	Zone      int    `json:"zone,omitempty"`
	Weather   string `json:"weather,omitempty"`
	Intensity int    `json:"intensity,omitempty"`

	Account string `json:"account,omitempty"`
	Amount  uint64 `json:"amount,omitempty"`

	QuestID     string          `json:"quest_id,omitempty"`
	Player      string          `json:"player,omitempty"`
	QuestSpec   json.RawMessage `json:"quest_spec,omitempty"`
	AchieveSpec json.RawMessage `json:"achievement_spec,omitempty"`

	Category string `json:"category,omitempty"`
	TokenID  uint64 `json:"token_id,omitempty"`
}

// RESULT (server -> client): synchronous outcome of one ACT.
type ResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	Body            any    `json:"body,omitempty"`
}
