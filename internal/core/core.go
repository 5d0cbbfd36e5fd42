package core

import (
	"strings"
	"time"
)

// FeedbackKind distinguishes explicit ratings from inferred reading behavior.
type FeedbackKind string

const (
	// FeedbackExplicit is a direct thumbs up/down from the user.
	FeedbackExplicit FeedbackKind = "explicit"
	// FeedbackImplicit is inferred from reading telemetry (completion or bounce).
	FeedbackImplicit FeedbackKind = "implicit"
)

// Pattern is a learned per-user keyword preference. Weight is a signed,
// unbounded accumulator; positive means interest, negative means disinterest.
// A pattern is unique per (UserID, Keyword) and is never created with weight 0.
type Pattern struct {
	UserID        string    `json:"user_id"`        // Owning user
	Keyword       string    `json:"keyword"`        // Lowercased keyword
	Weight        float64   `json:"weight"`         // Signed preference strength
	FeedbackCount int       `json:"feedback_count"` // Number of feedback events that touched this keyword
	DecayPeriods  int       `json:"decay_periods"`  // 30-day decay periods already applied since UpdatedAt
	UpdatedAt     time.Time `json:"updated_at"`     // Last feedback-driven update (decay does not reset this)
}

// Feedback is a recorded signal for a (user, article) pair. At most one row
// exists per pair; explicit feedback overwrites implicit, never the reverse.
type Feedback struct {
	ID            string       `json:"id"`             // Unique identifier
	UserID        string       `json:"user_id"`        // Owning user
	ArticleID     string       `json:"article_id"`     // Article the signal is about
	Kind          FeedbackKind `json:"kind"`           // explicit or implicit
	Value         float64      `json:"value"`          // Signed value (+1/-1 explicit, +0.5/-0.5 implicit)
	TimeSpent     int          `json:"time_spent"`     // Seconds spent reading (implicit only, 0 otherwise)
	EstimatedTime int          `json:"estimated_time"` // Estimated reading time in seconds (implicit only, 0 otherwise)
	CreatedAt     time.Time    `json:"created_at"`     // First feedback for the pair
	UpdatedAt     time.Time    `json:"updated_at"`     // Last overwrite
}

// PatternMatch is one keyword's contribution to an article score.
type PatternMatch struct {
	Keyword      string  `json:"keyword"`      // Matched keyword
	Weight       float64 `json:"weight"`       // Stored pattern weight
	Contribution float64 `json:"contribution"` // weight * article keyword relevance
}

// ArticleScore is the relevance prediction for a (user, article) pair.
// It is a derived, disposable projection: cached with a TTL, invalidated
// whenever the user's patterns change, and always recomputable.
type ArticleScore struct {
	UserID           string         `json:"user_id"`
	ArticleID        string         `json:"article_id"`
	Score            float64        `json:"score"`             // Normalized [0,1]
	MatchingPatterns []PatternMatch `json:"matching_patterns"` // Top contributors by |contribution|
	Explanation      string         `json:"explanation"`       // Human-readable score rationale
	ComputedAt       time.Time      `json:"computed_at"`
}

// ArticleText is the textual content of an article as the engine consumes it.
type ArticleText struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Excerpt string `json:"excerpt"` // Optional summary/description
	Content string `json:"content"`
}

// Text returns the concatenated text used for keyword extraction.
func (a ArticleText) Text() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{a.Title, a.Excerpt, a.Content} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// ViewReceipt is returned when an article view is recorded. The caller times
// the reading session client-side and reports back through RecordArticleExit.
type ViewReceipt struct {
	ViewedAt      time.Time `json:"viewed_at"`
	EstimatedTime int       `json:"estimated_time"` // Estimated reading time in seconds
}

// PatternStats summarizes a user's learned profile.
type PatternStats struct {
	UserID        string    `json:"user_id"`
	PatternCount  int       `json:"pattern_count"`
	FeedbackCount int       `json:"feedback_count"` // Total feedback rows for the user
	TopPositive   []Pattern `json:"top_positive"`   // Strongest interests
	TopNegative   []Pattern `json:"top_negative"`   // Strongest disinterests
	LastUpdated   time.Time `json:"last_updated"`   // Most recent pattern update (zero if no patterns)
}
