package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"idlecore/internal/catalog"
	"idlecore/internal/game"
	"idlecore/internal/ranking"
	"idlecore/internal/session"

	"github.com/fatih/color"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

type joinPayload struct {
	PlayerKey   string               `json:"player_key"`
	State       game.StateView       `json:"state"`
	WelcomeBack *session.WelcomeBack `json:"welcome_back"`
}

type eventPayload[T any] struct {
	Type string `json:"type"`
	Data T      `json:"data"`
}

type catalogPayload struct {
	Units []catalog.UnitDefinition `json:"units"`
}

type leaderboardPayload struct {
	Metric string        `json:"metric"`
	Rows   []ranking.Row `json:"rows"`
}

type replayPayload struct {
	Results []struct {
		Type   string `json:"type"`
		Status string `json:"status"`
		Code   string `json:"code"`
		Error  string `json:"error"`
	} `json:"results"`
}

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func renderJoin(raw map[string]any) error {
	j, err := decodeInto[joinPayload](raw)
	if err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("Joined as %s.", j.PlayerKey))
	if wb := j.WelcomeBack; wb != nil {
		accent.Println("\n== WELCOME BACK ==")
		fmt.Printf("Away:          %s\n", (time.Duration(wb.ElapsedMs) * time.Millisecond).Round(time.Second))
		fmt.Printf("Earned:        %s\n", colorizeAmount(wb.OfflineEarnings))
		fmt.Printf("Completions:   %s\n", comma(wb.Completions))
	}
	return renderView(j.State)
}

func renderFullState(raw map[string]any) error {
	ev, err := decodeInto[eventPayload[game.StateView]](raw)
	if err != nil {
		return err
	}
	return renderView(ev.Data)
}

func renderView(v game.StateView) error {
	accent.Println("\n== STATE ==")
	fmt.Printf("Balance:          %s\n", formatAmount(v.Balance))
	fmt.Printf("Lifetime Earned:  %s\n", formatAmount(v.LifetimeEarned))
	fmt.Printf("Earn Rate:        %s/s\n", formatAmount(v.EarnRate))
	fmt.Printf("Click:            %s x%.1f\n", formatAmount(v.ClickYield), v.ClickMultiplier)
	if v.StreakTier > 0 {
		fmt.Printf("Streak Tier:      %s\n", success.Sprint(v.StreakTier))
	}
	fmt.Printf("Longest Streak:   %s\n", (time.Duration(v.LongestStreakMs) * time.Millisecond).Round(time.Second))
	fmt.Printf("Time Online:      %s\n", (time.Duration(v.TimeOnlineMs) * time.Millisecond).Round(time.Second))

	fmt.Println()
	accent.Println("Units")
	fmt.Printf("%-12s %-20s %6s %5s %14s %12s %9s\n", "ID", "NAME", "OWNED", "TIER", "NEXT COST", "RATE/S", "PROGRESS")
	for _, u := range v.Units {
		owned := strconv.Itoa(u.Owned)
		if u.MaxOwned > 0 {
			owned += "/" + strconv.Itoa(u.MaxOwned)
		}
		cost := formatAmount(u.NextCost)
		if u.NextCost > v.Balance {
			cost = danger.Sprint(cost)
		}
		fmt.Printf("%-12s %-20s %6s %5d %14s %12s %8.0f%%\n",
			u.ID,
			truncate(u.Name, 20),
			owned,
			u.Tier,
			cost,
			formatAmount(u.EarnRate),
			u.Progress*100,
		)
	}
	fmt.Println()
	return nil
}

func renderStateChanged(raw map[string]any) error {
	ev, err := decodeInto[eventPayload[session.StateChanged]](raw)
	if err != nil {
		return err
	}
	s := ev.Data
	fmt.Printf("Balance %s  (rate %s/s, click %s x%.1f",
		success.Sprint(formatAmount(s.Balance)),
		formatAmount(s.EarnRate),
		formatAmount(s.ClickYield),
		s.ClickMultiplier,
	)
	if s.StreakTier > 0 {
		fmt.Printf(", streak tier %d", s.StreakTier)
	}
	fmt.Println(")")
	return nil
}

func renderPurchase(raw map[string]any) error {
	ev, err := decodeInto[eventPayload[session.PurchaseResult]](raw)
	if err != nil {
		return err
	}
	p := ev.Data
	if !p.Success {
		printError(fmt.Sprintf("Purchase of %s failed: %s", p.UnitID, p.Reason))
		return nil
	}
	printSuccess(fmt.Sprintf("Bought %s for %s. Owned: %d. Next: %s.",
		p.UnitID, formatAmount(p.Spent), p.Owned, formatAmount(p.NextCost)))
	return nil
}

func renderCatalog(raw map[string]any) error {
	out, err := decodeInto[catalogPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== CATALOG ==")
	fmt.Printf("%-12s %-20s %12s %10s %10s %6s\n", "ID", "NAME", "BASE COST", "PAYOUT", "CYCLE", "MAX")
	for _, u := range out.Units {
		cycle := "-"
		if u.BaseCycleMs > 0 {
			cycle = (time.Duration(u.BaseCycleMs) * time.Millisecond).String()
		}
		capText := "-"
		if u.MaxOwned > 0 {
			capText = strconv.Itoa(u.MaxOwned)
		}
		fmt.Printf("%-12s %-20s %12s %10s %10s %6s\n",
			u.ID, truncate(u.Name, 20), formatAmount(u.BaseCost), formatAmount(u.BasePayout), cycle, capText)
	}
	fmt.Println()
	return nil
}

func renderLeaderboard(raw map[string]any, title string) error {
	out, err := decodeInto[leaderboardPayload](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== %s ==\n", strings.ToUpper(strings.ReplaceAll(title, "_", " ")))
	if len(out.Rows) == 0 {
		printInfo("No leaderboard rows yet.")
		return nil
	}
	fmt.Printf("%-6s %-40s %14s\n", "RANK", "PLAYER", "SCORE")
	for _, row := range out.Rows {
		fmt.Printf("%-6d %-40s %14s\n", row.Rank, truncate(row.PlayerKey, 40), comma(int64(row.Score)))
	}
	fmt.Println()
	return nil
}

func renderReplay(raw map[string]any) error {
	out, err := decodeInto[replayPayload](raw)
	if err != nil {
		return err
	}
	applied := 0
	rejected := map[string]int{}
	for _, r := range out.Results {
		if r.Status == "applied" {
			applied++
			continue
		}
		rejected[r.Code]++
	}
	printSuccess(fmt.Sprintf("Sync complete: applied=%d rejected=%d", applied, len(out.Results)-applied))
	codes := make([]string, 0, len(rejected))
	for code := range rejected {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		printWarn(fmt.Sprintf("  %s: %d", code, rejected[code]))
	}
	return nil
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func colorizeAmount(v float64) string {
	text := formatAmount(v)
	switch {
	case v > 0:
		return success.Sprint("+" + text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

// formatAmount prints whole currency with thousands separators and switches
// to scientific notation once values no longer fit an int64.
func formatAmount(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) >= 1e18 {
		return strconv.FormatFloat(v, 'e', 3, 64)
	}
	if v != math.Trunc(v) && math.Abs(v) < 1000 {
		return strconv.FormatFloat(v, 'f', 2, 64)
	}
	return comma(int64(v))
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
