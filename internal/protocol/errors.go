package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Authority/identity.
	ErrUnauthorized = "E_UNAUTHORIZED"

	// Oracle.
	ErrInvalidZone      = "E_INVALID_ZONE"
	ErrInvalidIntensity = "E_INVALID_INTENSITY"

	// Ledger.
	ErrInsufficientBalance = "E_INSUFFICIENT_BALANCE"
	ErrBalanceOverflow     = "E_BALANCE_OVERFLOW"

	// Registry.
	ErrSupplyExceeded = "E_SUPPLY_EXCEEDED"
	ErrUnknownAsset   = "E_UNKNOWN_ASSET"

	// Quests.
	ErrQuestNotActive    = "E_QUEST_NOT_ACTIVE"
	ErrWeatherMismatch   = "E_WEATHER_MISMATCH"
	ErrRewardUnavailable = "E_REWARD_UNAVAILABLE"
	ErrUnknownQuest      = "E_UNKNOWN_QUEST"

	// Achievements.
	ErrAlreadyUnlocked     = "E_ALREADY_UNLOCKED"
	ErrUnknownAchievement  = "E_UNKNOWN_ACHIEVEMENT"
	ErrDuplicateDefinition = "E_DUPLICATE_DEFINITION"

	ErrBadRequest = "E_BAD_REQUEST"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:     {},
	ErrUnauthorized:        {},
	ErrInvalidZone:         {},
	ErrInvalidIntensity:    {},
	ErrInsufficientBalance: {},
	ErrBalanceOverflow:     {},
	ErrSupplyExceeded:      {},
	ErrUnknownAsset:        {},
	ErrQuestNotActive:      {},
	ErrWeatherMismatch:     {},
	ErrRewardUnavailable:   {},
	ErrUnknownQuest:        {},
	ErrAlreadyUnlocked:     {},
	ErrUnknownAchievement:  {},
	ErrDuplicateDefinition: {},
	ErrBadRequest:          {},
	ErrInternal:            {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
