package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	realmID := fs.String("realm", "", "realm id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	owner := fs.String("owner", "", "owner filter (assets)")
	player := fs.String("player", "", "player filter (progress, unlocks)")
	zone := fs.Int("zone", -1, "zone filter (observations, quests)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*realmID) == "" {
			fmt.Fprintln(os.Stderr, "missing -realm or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "realms", *realmID, "index.db")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT sequence,path,accounts,quests,assets,unlocks,saved_at FROM snapshots ORDER BY sequence DESC LIMIT ?`, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Sequence int64  `json:"sequence"`
				Path     string `json:"path"`
				Accounts int    `json:"accounts"`
				Quests   int    `json:"quests"`
				Assets   int    `json:"assets"`
				Unlocks  int    `json:"unlocks"`
				SavedAt  string `json:"saved_at"`
			}
			if err := rows.Scan(&r.Sequence, &r.Path, &r.Accounts, &r.Quests, &r.Assets, &r.Unlocks, &r.SavedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		checkRows(rows)

	case "observations":
		query := `SELECT zone,sequence,weather,intensity FROM observations ORDER BY sequence DESC LIMIT ?`
		qargs := []any{*limit}
		if *zone >= 0 {
			query = `SELECT zone,sequence,weather,intensity FROM observations WHERE zone=? ORDER BY sequence DESC LIMIT ?`
			qargs = []any{*zone, *limit}
		}
		rows, err := db.Query(query, qargs...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Zone      int    `json:"zone"`
				Sequence  int64  `json:"sequence"`
				Weather   string `json:"weather"`
				Intensity int    `json:"intensity"`
			}
			if err := rows.Scan(&r.Zone, &r.Sequence, &r.Weather, &r.Intensity); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		checkRows(rows)

	case "accounts":
		rows, err := db.Query(`SELECT owner,balance FROM accounts ORDER BY balance DESC LIMIT ?`, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Owner   string `json:"owner"`
				Balance int64  `json:"balance"`
			}
			if err := rows.Scan(&r.Owner, &r.Balance); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		checkRows(rows)

	case "quests":
		query := `SELECT quest_id,kind,zone,required_weather,target_amount,reward_xp,reward_tokens,status FROM quests ORDER BY quest_id LIMIT ?`
		qargs := []any{*limit}
		if *zone >= 0 {
			query = `SELECT quest_id,kind,zone,required_weather,target_amount,reward_xp,reward_tokens,status FROM quests WHERE zone=? ORDER BY quest_id LIMIT ?`
			qargs = []any{*zone, *limit}
		}
		rows, err := db.Query(query, qargs...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				QuestID         string `json:"quest_id"`
				Kind            string `json:"kind"`
				Zone            int    `json:"zone"`
				RequiredWeather string `json:"required_weather,omitempty"`
				TargetAmount    int64  `json:"target_amount"`
				RewardXP        int64  `json:"reward_xp"`
				RewardTokens    int64  `json:"reward_tokens"`
				Status          string `json:"status"`
			}
			if err := rows.Scan(&r.QuestID, &r.Kind, &r.Zone, &r.RequiredWeather, &r.TargetAmount, &r.RewardXP, &r.RewardTokens, &r.Status); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		checkRows(rows)

	case "progress":
		query := `SELECT player,quest_id,amount,completed_at FROM progress ORDER BY player,quest_id LIMIT ?`
		qargs := []any{*limit}
		if strings.TrimSpace(*player) != "" {
			query = `SELECT player,quest_id,amount,completed_at FROM progress WHERE player=? ORDER BY quest_id LIMIT ?`
			qargs = []any{strings.TrimSpace(*player), *limit}
		}
		rows, err := db.Query(query, qargs...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Player      string         `json:"player"`
				QuestID     string         `json:"quest_id"`
				Amount      int64          `json:"amount"`
				CompletedAt sql.NullString `json:"completed_at"`
			}
			if err := rows.Scan(&r.Player, &r.QuestID, &r.Amount, &r.CompletedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		checkRows(rows)

	case "assets":
		query := `SELECT token_id,owner,category,zone,rarity,stage,aspect FROM assets ORDER BY token_id LIMIT ?`
		qargs := []any{*limit}
		if strings.TrimSpace(*owner) != "" {
			query = `SELECT token_id,owner,category,zone,rarity,stage,aspect FROM assets WHERE owner=? ORDER BY token_id LIMIT ?`
			qargs = []any{strings.TrimSpace(*owner), *limit}
		}
		rows, err := db.Query(query, qargs...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				TokenID  int64  `json:"token_id"`
				Owner    string `json:"owner"`
				Category string `json:"category"`
				Zone     int    `json:"zone"`
				Rarity   string `json:"rarity"`
				Stage    int    `json:"stage"`
				Aspect   string `json:"aspect,omitempty"`
			}
			if err := rows.Scan(&r.TokenID, &r.Owner, &r.Category, &r.Zone, &r.Rarity, &r.Stage, &r.Aspect); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		checkRows(rows)

	case "unlocks":
		query := `SELECT player,achievement_id,unlocked_at FROM unlocks ORDER BY unlocked_at DESC LIMIT ?`
		qargs := []any{*limit}
		if strings.TrimSpace(*player) != "" {
			query = `SELECT player,achievement_id,unlocked_at FROM unlocks WHERE player=? ORDER BY unlocked_at DESC LIMIT ?`
			qargs = []any{strings.TrimSpace(*player), *limit}
		}
		rows, err := db.Query(query, qargs...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Player        string `json:"player"`
				AchievementID string `json:"achievement_id"`
				UnlockedAt    string `json:"unlocked_at"`
			}
			if err := rows.Scan(&r.Player, &r.AchievementID, &r.UnlockedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		checkRows(rows)

	case "events":
		rows, err := db.Query(`SELECT cursor,name,raw_json FROM events ORDER BY cursor DESC LIMIT ?`, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var cursor int64
			var name, raw string
			if err := rows.Scan(&cursor, &name, &raw); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			fmt.Printf("%d %s %s\n", cursor, name, raw)
		}
		checkRows(rows)

	case "catalogs":
		rows, err := db.Query(`SELECT name,digest,updated_at FROM catalogs ORDER BY name`)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Name      string `json:"name"`
				Digest    string `json:"digest"`
				UpdatedAt string `json:"updated_at"`
			}
			if err := rows.Scan(&r.Name, &r.Digest, &r.UpdatedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		checkRows(rows)

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-realm REALM|-db PATH] snapshots|observations|accounts|quests|progress|assets|unlocks|events|catalogs")
		os.Exit(2)
	}
}

func checkRows(rows *sql.Rows) {
	if err := rows.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "rows:", err)
		os.Exit(1)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
