package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello         = "HELLO"
	TypeWelcome       = "WELCOME"
	TypeAct           = "ACT"
	TypeResult        = "RESULT"
	TypeEvent         = "EVENT"
	TypeEventBatchReq = "EVENT_BATCH_REQ"
	TypeEventBatch    = "EVENT_BATCH"
)

// Operation names carried inside ACT messages.
const (
	OpRecordObservation = "RECORD_OBSERVATION"
	OpCurrentWeather    = "CURRENT_WEATHER"
	OpFundPool          = "FUND_POOL"
	OpBalance           = "BALANCE"
	OpCreateQuest       = "CREATE_QUEST"
	OpRetireQuest       = "RETIRE_QUEST"
	OpRecordProgress    = "RECORD_PROGRESS"
	OpMintAsset         = "MINT_ASSET"
	OpEvolveAsset       = "EVOLVE_ASSET"
	OpAssetMetadata     = "ASSET_METADATA"
	OpCreateAchievement = "CREATE_ACHIEVEMENT"
	OpEvaluate          = "EVALUATE"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
