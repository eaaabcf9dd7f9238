package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"skycast.gg/internal/protocol"
	"skycast.gg/internal/realm"
)

// Server exposes the realm over a websocket: HELLO/WELCOME handshake, then
// one RESULT per ACT and pull-style EVENT_BATCH replies. The transport is
// identity-blind: it forwards whatever identity the client claims and the
// realm decides per operation whether it is allowed.
type Server struct {
	realm *realm.Realm
	log   *log.Logger

	zones    []protocol.ZoneRef
	catalogs protocol.CatalogRefs

	upgrader websocket.Upgrader
}

func NewServer(r *realm.Realm, zones []protocol.ZoneRef, catalogs protocol.CatalogRefs, logger *log.Logger) *Server {
	return &Server{
		realm:    r,
		log:      logger,
		zones:    zones,
		catalogs: catalogs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

type session struct {
	id       string
	identity string
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}

		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypeAct:
				var act protocol.ActMsg
				if err := json.Unmarshal(msg, &act); err != nil {
					continue
				}
				if act.ProtocolVersion != protocol.Version {
					continue
				}
				res := s.dispatch(sess, act)
				if err := writeJSON(conn, res); err != nil {
					return
				}
			case protocol.TypeEventBatchReq:
				var req protocol.EventBatchReqMsg
				if err := json.Unmarshal(msg, &req); err != nil {
					continue
				}
				items, next := s.realm.EventsSince(req.SinceCursor, req.Limit)
				batch := protocol.EventBatchMsg{
					Type:            protocol.TypeEventBatch,
					ProtocolVersion: protocol.Version,
					ReqID:           req.ReqID,
					Events:          items,
					NextCursor:      next,
				}
				if err := writeJSON(conn, batch); err != nil {
					return
				}
			}
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}

	identity := ""
	if hello.Auth != nil {
		identity = strings.TrimSpace(hello.Auth.Identity)
	}
	if identity == "" {
		identity = strings.TrimSpace(hello.ClientName)
	}
	if identity == "" {
		identity = "guest"
	}

	sess := &session{id: uuid.NewString(), identity: identity}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		Identity:        sess.identity,
		RealmParams: protocol.RealmParams{
			RealmID:   s.realm.ID(),
			ZoneCount: s.realm.ZoneCount(),
		},
		Zones:       s.zones,
		Catalogs:    s.catalogs,
		EventCursor: s.realm.EventCursor(),
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	if s.log != nil {
		s.log.Printf("session %s open identity=%s", sess.id, sess.identity)
	}
	return sess
}

func (s *Server) dispatch(sess *session, act protocol.ActMsg) protocol.ResultMsg {
	body, err := s.apply(sess, act)
	res := protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		AckFor:          act.ActID,
	}
	if err != nil {
		res.Code = realm.CodeOf(err)
		res.Message = err.Error()
		return res
	}
	res.Accepted = true
	res.Body = body
	return res
}

func (s *Server) apply(sess *session, act protocol.ActMsg) (any, error) {
	switch act.Op {
	case protocol.OpRecordObservation:
		obs, err := s.realm.RecordObservation(sess.identity, act.Zone, realm.WeatherType(act.Weather), act.Intensity)
		if err != nil {
			return nil, err
		}
		return observationBody(obs), nil

	case protocol.OpCurrentWeather:
		obs, err := s.realm.CurrentWeather(act.Zone)
		if err != nil {
			return nil, err
		}
		return observationBody(obs), nil

	case protocol.OpFundPool:
		if err := s.realm.FundPool(sess.identity, act.Amount); err != nil {
			return nil, err
		}
		return map[string]any{"pool": s.realm.PoolAccount(), "balance": s.realm.Balance(s.realm.PoolAccount())}, nil

	case protocol.OpBalance:
		owner := act.Account
		if owner == "" {
			owner = sess.identity
		}
		return map[string]any{"owner": owner, "balance": s.realm.Balance(owner)}, nil

	case protocol.OpCreateQuest:
		var spec wireQuestSpec
		if err := decodeSpec(act.QuestSpec, &spec); err != nil {
			return nil, err
		}
		q, err := s.realm.CreateQuest(sess.identity, realm.QuestSpec{
			Kind:            realm.QuestKind(spec.Kind),
			Zone:            spec.Zone,
			RequiredWeather: realm.WeatherType(spec.RequiredWeather),
			TargetAmount:    spec.TargetAmount,
			RewardXP:        spec.RewardXP,
			RewardTokens:    spec.RewardTokens,
			Duration:        time.Duration(spec.DurationSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return questBody(q), nil

	case protocol.OpRetireQuest:
		q, err := s.realm.RetireQuest(sess.identity, act.QuestID)
		if err != nil {
			return nil, err
		}
		return questBody(q), nil

	case protocol.OpRecordProgress:
		res, err := s.realm.RecordProgress(sess.identity, act.QuestID, act.Amount)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"quest_id":          res.Quest,
			"amount":            res.Amount,
			"completed":         res.Completed,
			"already_completed": res.AlreadyCompleted,
			"reward_tokens":     res.RewardTokens,
			"reward_xp":         res.RewardXP,
		}, nil

	case protocol.OpMintAsset:
		a, err := s.realm.Mint(sess.identity, realm.AssetCategory(act.Category), act.Zone)
		if err != nil {
			return nil, err
		}
		return assetBody(a), nil

	case protocol.OpEvolveAsset:
		a, changed, err := s.realm.Evolve(act.TokenID)
		if err != nil {
			return nil, err
		}
		body := assetBody(a)
		body["changed"] = changed
		return body, nil

	case protocol.OpAssetMetadata:
		a, err := s.realm.AssetMetadata(act.TokenID)
		if err != nil {
			return nil, err
		}
		return assetBody(a), nil

	case protocol.OpCreateAchievement:
		var spec wireAchievementSpec
		if err := decodeSpec(act.AchieveSpec, &spec); err != nil {
			return nil, err
		}
		a, err := s.realm.CreateAchievement(sess.identity, realm.AchievementSpec{
			ID:           spec.ID,
			Description:  spec.Description,
			RewardTokens: spec.RewardTokens,
			Rule: realm.UnlockRule{
				MinCompletedTotal:   spec.Rule.MinCompletedTotal,
				MinCompletedByKind:  kindMap(spec.Rule.MinCompletedByKind),
				MinAssetsTotal:      spec.Rule.MinAssetsTotal,
				MinAssetsByCategory: catMap(spec.Rule.MinAssetsByCategory),
				MinAssetsByRarity:   rarityMap(spec.Rule.MinAssetsByRarity),
				MinDistinctZones:    spec.Rule.MinDistinctZones,
			},
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"achievement_id": a.ID}, nil

	case protocol.OpEvaluate:
		player := act.Player
		if player == "" {
			player = sess.identity
		}
		unlocked, err := s.realm.Evaluate(player)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(unlocked))
		for _, u := range unlocked {
			out = append(out, map[string]any{
				"achievement_id": u.AchievementID,
				"reward_tokens":  u.RewardTokens,
			})
		}
		return map[string]any{"player": player, "unlocked": out}, nil
	}
	return nil, realm.ErrBadRequestf("unknown op %q", act.Op)
}

type wireQuestSpec struct {
	Kind            string `json:"kind"`
	Zone            int    `json:"zone"`
	RequiredWeather string `json:"required_weather,omitempty"`
	TargetAmount    uint64 `json:"target_amount"`
	RewardXP        uint64 `json:"reward_xp,omitempty"`
	RewardTokens    uint64 `json:"reward_tokens,omitempty"`
	DurationSeconds int64  `json:"duration_seconds"`
}

type wireAchievementSpec struct {
	ID           string       `json:"id"`
	Description  string       `json:"description,omitempty"`
	RewardTokens uint64       `json:"reward_tokens,omitempty"`
	Rule         wireRuleSpec `json:"rule"`
}

type wireRuleSpec struct {
	MinCompletedTotal   uint64            `json:"min_completed_total,omitempty"`
	MinCompletedByKind  map[string]uint64 `json:"min_completed_by_kind,omitempty"`
	MinAssetsTotal      uint64            `json:"min_assets_total,omitempty"`
	MinAssetsByCategory map[string]uint64 `json:"min_assets_by_category,omitempty"`
	MinAssetsByRarity   map[string]uint64 `json:"min_assets_by_rarity,omitempty"`
	MinDistinctZones    uint64            `json:"min_distinct_zones,omitempty"`
}

func decodeSpec(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return realm.ErrBadRequestf("missing spec payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return realm.ErrBadRequestf("bad spec payload: %v", err)
	}
	return nil
}

func observationBody(obs realm.Observation) map[string]any {
	return map[string]any{
		"zone":      obs.Zone,
		"weather":   string(obs.Weather),
		"intensity": obs.Intensity,
		"sequence":  obs.Sequence,
	}
}

func questBody(q realm.Quest) map[string]any {
	return map[string]any{
		"quest_id":         q.ID,
		"kind":             string(q.Kind),
		"zone":             q.Zone,
		"required_weather": string(q.RequiredWeather),
		"target_amount":    q.TargetAmount,
		"status":           string(q.Status),
	}
}

func assetBody(a realm.Asset) map[string]any {
	return map[string]any{
		"token_id": a.TokenID,
		"owner":    a.Owner,
		"category": string(a.Category),
		"zone":     a.ZoneAtMint,
		"rarity":   string(a.Rarity),
		"stage":    a.Stage,
		"aspect":   string(a.Aspect),
	}
}

func kindMap(in map[string]uint64) map[realm.QuestKind]uint64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[realm.QuestKind]uint64, len(in))
	for k, v := range in {
		out[realm.QuestKind(k)] = v
	}
	return out
}

func catMap(in map[string]uint64) map[realm.AssetCategory]uint64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[realm.AssetCategory]uint64, len(in))
	for k, v := range in {
		out[realm.AssetCategory(k)] = v
	}
	return out
}

func rarityMap(in map[string]uint64) map[realm.Rarity]uint64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[realm.Rarity]uint64, len(in))
	for k, v := range in {
		out[realm.Rarity(k)] = v
	}
	return out
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
