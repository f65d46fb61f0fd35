package posts

import "slices"

// VoteStatus is a voter's standing on a single post.
type VoteStatus int

const (
	// VoteStatusNone means the voter has not voted.
	VoteStatusNone VoteStatus = 0
	// VoteStatusUp means the voter upvoted.
	VoteStatusUp VoteStatus = 1
	// VoteStatusDown means the voter downvoted.
	VoteStatusDown VoteStatus = 2
)

// VoteAction enumerates the ledger events accepted from clients.
type VoteAction string

const (
	// VoteActionUp upvotes, or clears an existing upvote.
	VoteActionUp VoteAction = "upvote"
	// VoteActionDown downvotes, or clears an existing downvote.
	VoteActionDown VoteAction = "downvote"
	// VoteActionClear removes any vote.
	VoteActionClear VoteAction = "unvote"
)

// VoteLedger holds the disjoint voter sets of a post in insertion order.
// Mutations copy the sets first so copies of a Post never share them.
type VoteLedger struct {
	Positive []UserID
	Negative []UserID
}

func (l VoteLedger) clone() VoteLedger {
	return VoteLedger{
		Positive: append(make([]UserID, 0, len(l.Positive)), l.Positive...),
		Negative: append(make([]UserID, 0, len(l.Negative)), l.Negative...),
	}
}

// VoteStatus reports the voter's standing on the post.
func (p Post) VoteStatus(voter UserID) VoteStatus {
	switch {
	case voter == "":
		return VoteStatusNone
	case slices.Contains(p.votes.Positive, voter):
		return VoteStatusUp
	case slices.Contains(p.votes.Negative, voter):
		return VoteStatusDown
	default:
		return VoteStatusNone
	}
}

// Upvote toggles an upvote: an existing upvote is cleared, otherwise any
// downvote is replaced by an upvote.
func (p *Post) Upvote(voter UserID) {
	if p.VoteStatus(voter) == VoteStatusUp {
		p.Unvote(voter)
		return
	}
	p.votes = p.votes.clone()
	p.votes.Negative = without(p.votes.Negative, voter)
	p.votes.Positive = append(p.votes.Positive, voter)
	p.recomputeScore()
}

// Downvote toggles a downvote: an existing downvote is cleared, otherwise any
// upvote is replaced by a downvote.
func (p *Post) Downvote(voter UserID) {
	if p.VoteStatus(voter) == VoteStatusDown {
		p.Unvote(voter)
		return
	}
	p.votes = p.votes.clone()
	p.votes.Positive = without(p.votes.Positive, voter)
	p.votes.Negative = append(p.votes.Negative, voter)
	p.recomputeScore()
}

// Unvote removes the voter from whichever set holds them.
func (p *Post) Unvote(voter UserID) {
	p.votes = p.votes.clone()
	p.votes.Positive = without(p.votes.Positive, voter)
	p.votes.Negative = without(p.votes.Negative, voter)
	p.recomputeScore()
}

// ApplyVote dispatches a vote action. Unknown actions leave the post untouched.
func (p *Post) ApplyVote(action VoteAction, voter UserID) bool {
	if voter == "" {
		return false
	}
	switch action {
	case VoteActionUp:
		p.Upvote(voter)
	case VoteActionDown:
		p.Downvote(voter)
	case VoteActionClear:
		p.Unvote(voter)
	default:
		return false
	}
	return true
}

// recomputeScore is the only writer of score.
func (p *Post) recomputeScore() {
	p.score = len(p.votes.Positive) - len(p.votes.Negative)
}

func without(voters []UserID, voter UserID) []UserID {
	return slices.DeleteFunc(voters, func(candidate UserID) bool {
		return candidate == voter
	})
}
