// Package assistant answers chat widget questions from a fixed script.
package assistant

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"refery/api/internal/rbac"
)

const FallbackIntent = "fallback"

type Intent struct {
	Name     string
	Keywords []string
	Reply    string
	// RoleReplies override Reply for a signed-in role.
	RoleReplies map[rbac.Role]string
	Suggestions []string
}

type Answer struct {
	Intent      string   `json:"intent"`
	Reply       string   `json:"reply"`
	Suggestions []string `json:"suggestions"`
}

type Responder struct {
	intents  []Intent
	fallback Answer
}

func NewResponder(intents []Intent, fallback Answer) *Responder {
	if fallback.Intent == "" {
		fallback.Intent = FallbackIntent
	}
	if fallback.Suggestions == nil {
		fallback.Suggestions = []string{}
	}
	return &Responder{intents: intents, fallback: fallback}
}

// Reply scores every intent by keyword hits and answers with the best one.
// Earlier intents win ties. Multi-word keywords match as phrases.
func (r *Responder) Reply(message string, role rbac.Role) Answer {
	tokens := tokenize(message)
	if len(tokens) == 0 {
		return r.fallback
	}
	joined := " " + strings.Join(tokens, " ") + " "
	words := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		words[tok] = struct{}{}
	}

	best, bestScore := -1, 0
	for i, intent := range r.intents {
		score := 0
		for _, kw := range intent.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if strings.Contains(kw, " ") {
				if strings.Contains(joined, " "+kw+" ") {
					score += 2
				}
				continue
			}
			if _, ok := words[kw]; ok {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return r.fallback
	}

	intent := r.intents[best]
	reply := intent.Reply
	if override, ok := intent.RoleReplies[role]; ok && override != "" {
		reply = override
	}
	suggestions := intent.Suggestions
	if suggestions == nil {
		suggestions = []string{}
	}
	return Answer{Intent: intent.Name, Reply: reply, Suggestions: suggestions}
}

func tokenize(message string) []string {
	fields := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return fields
}

// Default is the script served by POST /api/chat. payoutDelay is how long a
// hire waits before its reward is released.
func Default(payoutDelay time.Duration) *Responder {
	return NewResponder(defaultIntents(payoutDelay), Answer{
		Reply: "I'm not sure about that one. Try asking about referrals, rewards, posting a job or your application status, or contact support@refery.app.",
		Suggestions: []string{
			"How do referrals work?",
			"When do I get paid?",
			"How do I post a job?",
		},
	})
}

// releaseWindow renders a payout delay as "72 hours after the hire".
func releaseWindow(delay time.Duration) string {
	switch {
	case delay <= 0:
		return "as soon as the hire is recorded"
	case delay%time.Hour == 0:
		return plural(int(delay/time.Hour), "hour") + " after the hire"
	case delay%time.Minute == 0:
		return plural(int(delay/time.Minute), "minute") + " after the hire"
	default:
		return delay.String() + " after the hire"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func defaultIntents(payoutDelay time.Duration) []Intent {
	release := releaseWindow(payoutDelay)
	return []Intent{
		{
			Name:        "greeting",
			Keywords:    []string{"hi", "hello", "hey", "morning", "afternoon"},
			Reply:       "Hi! I can help with referrals, rewards, job postings and applications. What do you need?",
			Suggestions: []string{"How do referrals work?", "When do I get paid?"},
		},
		{
			Name:     "how_referrals_work",
			Keywords: []string{"refer", "referral", "referrals", "referring", "how it works", "recommend"},
			Reply:    "Pick an open job, submit your candidate's name and email (or share your referral link) and the hiring team takes it from there. You'll see every status change on your dashboard.",
			RoleReplies: map[rbac.Role]string{
				rbac.RolePoster:    "Referrers send candidates to your open jobs. Each one lands in the job's referral list where you move it through reviewing, interviewing, offered and hired.",
				rbac.RoleCandidate: "Someone in your network can refer you, or you can apply directly from the job board. Referred applications are tracked the same way.",
			},
			Suggestions: []string{"How do I create a referral link?", "When do I get paid?"},
		},
		{
			Name:     "rewards",
			Keywords: []string{"reward", "rewards", "payout", "payouts", "paid", "pay", "money", "bonus", "earn", "earnings"},
			Reply:    "When your candidate is hired the job's referral reward is scheduled as a payout. It is released " + release + " and shows up as paid on your dashboard.",
			RoleReplies: map[rbac.Role]string{
				rbac.RolePoster: "You set the referral reward on each job. When a referred candidate is marked hired, a payout is scheduled for the referrer and released " + release + " unless you cancel it first.",
			},
			Suggestions: []string{"Download my payout statement"},
		},
		{
			Name:     "post_job",
			Keywords: []string{"post", "posting", "create job", "new job", "publish", "hire", "hiring", "import"},
			Reply:    "Posters can create jobs from the Jobs page or import up to 500 postings from a spreadsheet. New jobs go live on the board right away unless you save them as drafts. Imported postings stay drafts until you publish them.",
			RoleReplies: map[rbac.Role]string{
				rbac.RoleReferrer:  "Only poster accounts can publish jobs. You can still refer candidates to any open job.",
				rbac.RoleCandidate: "Only poster accounts can publish jobs. Browse the job board to find openings.",
			},
			Suggestions: []string{"How do referrals work?"},
		},
		{
			Name:        "application_status",
			Keywords:    []string{"status", "application", "applied", "interview", "interviewing", "offer", "rejected", "update"},
			Reply:       "Open your dashboard to see every referral or application with its current status and history. You'll get an email whenever the hiring team moves it.",
			Suggestions: []string{"Can I withdraw an application?"},
		},
		{
			Name:        "withdraw",
			Keywords:    []string{"withdraw", "cancel", "retract"},
			Reply:       "You can withdraw a referral or application while it is submitted, reviewing or interviewing. After an offer it can no longer be withdrawn here.",
			Suggestions: []string{},
		},
		{
			Name:        "resume",
			Keywords:    []string{"resume", "cv", "upload", "attachment"},
			Reply:       "Attach a PDF, DOC or DOCX resume up to 5 MB from the referral page. Only the hiring team and the referral's participants can download it.",
			Suggestions: []string{},
		},
		{
			Name:        "support",
			Keywords:    []string{"support", "help", "contact", "human", "problem", "bug"},
			Reply:       "You can reach the Refery team at support@refery.app. We usually answer within one business day.",
			Suggestions: []string{},
		},
	}
}
