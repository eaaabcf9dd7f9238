package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"skycast.gg/internal/protocol"
)

// A small scripted client: connects, pulls events and performs a random mint
// or progress action on an interval. Useful for exercising a dev server.
func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "player identity")
		questID  = flag.String("quest", "", "quest to grind (optional)")
		interval = flag.Duration("interval", 2*time.Second, "time between actions")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		Auth:            &protocol.HelloAuth{Identity: *name},
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	var welcome protocol.WelcomeMsg
	if err := conn.ReadJSON(&welcome); err != nil {
		logger.Fatalf("read WELCOME: %v", err)
	}
	logger.Printf("WELCOME session=%s realm=%s zones=%d cursor=%d",
		welcome.SessionID, welcome.RealmParams.RealmID, welcome.RealmParams.ZoneCount, welcome.EventCursor)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	cursor := welcome.EventCursor
	zones := welcome.RealmParams.ZoneCount
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	categories := []string{"GEAR", "COLLECTIBLE", "ARTIFACT", "WEAPON", "TOOL"}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	var actSeq int
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		actSeq++
		act := protocol.ActMsg{
			Type:            protocol.TypeAct,
			ProtocolVersion: protocol.Version,
			ActID:           fmt.Sprintf("%s-%d", *name, actSeq),
		}
		switch {
		case *questID != "" && rng.Intn(2) == 0:
			act.Op = protocol.OpRecordProgress
			act.QuestID = *questID
			act.Amount = uint64(1 + rng.Intn(3))
		case rng.Intn(3) == 0:
			act.Op = protocol.OpEvaluate
		default:
			act.Op = protocol.OpMintAsset
			act.Category = categories[rng.Intn(len(categories))]
			act.Zone = rng.Intn(zones)
		}
		if err := conn.WriteJSON(act); err != nil {
			logger.Fatalf("send ACT: %v", err)
		}
		if !readResult(conn, logger, act.ActID) {
			return
		}

		if err := conn.WriteJSON(protocol.EventBatchReqMsg{
			Type:            protocol.TypeEventBatchReq,
			ProtocolVersion: protocol.Version,
			ReqID:           fmt.Sprintf("ev-%d", actSeq),
			SinceCursor:     cursor,
			Limit:           100,
		}); err != nil {
			logger.Fatalf("send EVENT_BATCH_REQ: %v", err)
		}
		var batch protocol.EventBatchMsg
		if err := conn.ReadJSON(&batch); err != nil {
			logger.Printf("read EVENT_BATCH: %v", err)
			return
		}
		for _, it := range batch.Events {
			logger.Printf("event cursor=%d name=%s", it.Cursor, it.Event.Name)
		}
		cursor = batch.NextCursor
	}
}

func readResult(conn *websocket.Conn, logger *log.Logger, actID string) bool {
	_, msg, err := conn.ReadMessage()
	if err != nil {
		logger.Printf("read RESULT: %v", err)
		return false
	}
	var res protocol.ResultMsg
	if err := json.Unmarshal(msg, &res); err != nil {
		logger.Printf("decode RESULT: %v", err)
		return true
	}
	if res.AckFor != actID {
		logger.Printf("RESULT ack=%s does not match act=%s", res.AckFor, actID)
	}
	if res.Accepted {
		logger.Printf("RESULT ack=%s accepted", res.AckFor)
	} else {
		logger.Printf("RESULT ack=%s code=%s msg=%s", res.AckFor, res.Code, res.Message)
	}
	return true
}
