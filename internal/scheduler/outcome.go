package scheduler

import (
	"time"

	"github.com/cuongbtq/post-scheduler/internal/scheduler/domain"
)

// Result is how a single post's dispatch ended within one tick
type Result int

const (
	// ResultPublished means this instance won the pending → published transition
	ResultPublished Result = iota
	// ResultFailed means this instance won the pending → failed transition
	ResultFailed
	// ResultAlreadyClaimed means another actor finalized the post first
	ResultAlreadyClaimed
	// ResultSkipped means no transition was committed; the post stays pending
	ResultSkipped
)

func (r Result) String() string {
	switch r {
	case ResultPublished:
		return "published"
	case ResultFailed:
		return "failed"
	case ResultAlreadyClaimed:
		return "already_claimed"
	case ResultSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Outcome of dispatching one post
type Outcome struct {
	PostID      string
	Tier        Tier
	Result      Result
	PublishedID string
	Err         error
}

// TickReport summarises one tick
type TickReport struct {
	StartedAt         time.Time      `json:"started_at"`
	FinishedAt        time.Time      `json:"finished_at"`
	Due               int            `json:"due"`
	MissingCredential int            `json:"missing_credential"`
	Tiers             map[string]int `json:"tiers"`
	Published         int            `json:"published"`
	Failed            int            `json:"failed"`
	AlreadyClaimed    int            `json:"already_claimed"`
	Skipped           int            `json:"skipped"`
	Error             string         `json:"error,omitempty"`
}

func newTickReport(startedAt time.Time) *TickReport {
	return &TickReport{
		StartedAt: startedAt,
		Tiers:     map[string]int{},
	}
}

func (r *TickReport) add(outcomes ...Outcome) {
	for _, o := range outcomes {
		switch o.Result {
		case ResultPublished:
			r.Published++
		case ResultFailed:
			r.Failed++
		case ResultAlreadyClaimed:
			r.AlreadyClaimed++
		default:
			r.Skipped++
		}
	}
}

func (r *TickReport) countTiers(groups map[Tier][]gatedPost) {
	for tier, posts := range groups {
		r.Tiers[tier.String()] = len(posts)
	}
}

// gatedPost is a due post whose owner has a credential
type gatedPost struct {
	post       domain.ScheduledPost
	credential domain.Credential
}
