package rank

import (
	"fmt"
	"math"
	"sort"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/matheus3301/dmsync/internal/msgstore"
)

// Strategy selects how a message is scored.
type Strategy string

const (
	Relevance    Strategy = "relevance"
	Importance   Strategy = "importance"
	Recency      Strategy = "recency"
	Oldest       Strategy = "oldest"
	Engagement   Strategy = "engagement"
	Alphabetical Strategy = "alphabetical"
)

// Strategies lists every strategy in display order.
var Strategies = []Strategy{Relevance, Importance, Recency, Oldest, Engagement, Alphabetical}

// ParseStrategy converts a name into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	for _, st := range Strategies {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown sort strategy %q", s)
}

// boost is added once for a collected message and once for a marked one.
const boost = 0.15

// Signals carries the per-user state scores depend on.
type Signals struct {
	Marks       map[string]Mark
	Collections map[string]bool
	Now         time.Time
}

// Score returns the sortScore of m in [0,1].
func Score(m msgstore.Message, s Strategy, p Preferences, sig Signals) float64 {
	var score float64
	switch s {
	case Relevance:
		score = m.RelevanceScore
		if score == 0 {
			score = 0.5
		}
	case Importance:
		score = importanceScore(m, sig.Marks[m.ID])
	case Recency:
		score = recencyScore(m.CreatedAt, sig.Now)
	case Oldest:
		score = 1 - recencyScore(m.CreatedAt, sig.Now)
	case Engagement:
		score = engagementScore(m)
	case Alphabetical:
		score = alphabeticalScore(m.SenderName)
	default:
		score = 0.5
	}

	if p.BoostCollected && (m.Collected || sig.Collections[m.ID]) {
		score += boost
	}
	if p.BoostMarked && sig.Marks[m.ID].Any() {
		score += boost
	}
	return clamp(score)
}

// SortMessages returns msgs ordered by descending score. Equal scores keep
// their input order.
func SortMessages(msgs []msgstore.Message, s Strategy, p Preferences, sig Signals) []msgstore.Message {
	if sig.Now.IsZero() {
		sig.Now = time.Now()
	}
	type scored struct {
		msg   msgstore.Message
		score float64
	}
	tmp := make([]scored, len(msgs))
	for i, m := range msgs {
		tmp[i] = scored{msg: m, score: Score(m, s, p, sig)}
	}
	sort.SliceStable(tmp, func(i, j int) bool { return tmp[i].score > tmp[j].score })

	out := make([]msgstore.Message, len(tmp))
	for i, sc := range tmp {
		out[i] = sc.msg
	}
	return out
}

func importanceScore(m msgstore.Message, mark Mark) float64 {
	var score float64
	if mark.Important {
		score += 0.4
	}
	if mark.Urgent {
		score += 0.35
	}
	if mark.Todo {
		score += 0.25
	}
	if mark.Done {
		score += 0.15
	}

	var upper, exclamations, total int
	for _, r := range m.Content {
		total++
		if r >= 'A' && r <= 'Z' {
			upper++
		}
		if r == '!' {
			exclamations++
		}
	}
	if total > 0 && float64(upper)/float64(total) > 0.3 {
		score += 0.1
	}
	score += math.Min(0.1, float64(exclamations)*0.05)
	return clamp(score)
}

func recencyScore(at, now time.Time) float64 {
	if at.IsZero() {
		return 0
	}
	age := now.Sub(at)
	switch {
	case age < time.Hour:
		return 1
	case age < 6*time.Hour:
		return 0.9
	case age < 24*time.Hour:
		return 0.7
	case age < 7*24*time.Hour:
		return 0.5
	case age < 30*24*time.Hour:
		return 0.3
	}
	return 0.1
}

func engagementScore(m msgstore.Message) float64 {
	var score float64
	score += math.Min(0.3, float64(m.ForwardCount)*0.05)
	score += math.Min(0.3, float64(m.ReplyCount)*0.05)
	if m.Collected {
		score += 0.2
	}
	if m.ViewCount > 0 {
		score += math.Min(0.2, math.Log(float64(m.ViewCount)+1)*0.1)
	}
	return clamp(score)
}

// alphabeticalScore maps the first letter of name to A=1 down to Z=1/26.
func alphabeticalScore(name string) float64 {
	if name == "" {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(name)
	return clamp(1 - float64(unicode.ToUpper(r)-'A')/26)
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
