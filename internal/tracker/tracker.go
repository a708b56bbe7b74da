package tracker

import (
	"strings"
	"sync"
	"time"
)

// Flag is the yes/no value used by the outcome record wire format.
type Flag string

const (
	Yes Flag = "yes"
	No  Flag = "no"
)

// Canonical action_performed labels.
const (
	ActionSendConnectionRequest = "send_connection_request"
	ActionSubmitComment         = "submit_comment"
	ActionLikePost              = "like_post"
	ActionFollowCompany         = "follow_company"
	ActionFollowProfile         = "follow_profile"
	ActionLikeAndComment        = "like_and_comment"
	ActionSendMessage           = "send_message"
	ActionVisitProfile          = "visit_profile"
)

// ActionResult is the structured yes/no summary of what happened during one
// task. Flags only ever transition no→yes.
type ActionResult struct {
	ConnectionMade   Flag   `json:"connection_made"`
	SubmittedComment Flag   `json:"submitted_comment"`
	LikedPost        Flag   `json:"liked_post"`
	FollowedCompany  Flag   `json:"followed_company"`
	FollowedProfile  Flag   `json:"followed_profile"`
	SentMessage      Flag   `json:"sent_message"`
	VisitedProfile   Flag   `json:"visited_profile"`
	ActionPerformed  string `json:"action_performed"`
	URLVisited       string `json:"url_visited"`
	Timestamp        string `json:"timestamp"`
	Details          string `json:"details"`
	ErrorMessage     string `json:"error_message,omitempty"`
}

// TaskResult is the finalized outcome record delivered downstream.
type TaskResult struct {
	TaskID  string       `json:"task_id"`
	Success bool         `json:"success"`
	Results ActionResult `json:"results"`
}

// Tracker accumulates discrete action observations into one outcome record.
// One tracker serves exactly one task and is discarded after the result is
// generated.
type Tracker struct {
	mu      sync.Mutex
	taskID  string
	actions ActionResult
}

// New creates a tracker for a task, seeding the visited URL with the task's
// start URL when known.
func New(taskID, startURL string) *Tracker {
	return &Tracker{
		taskID: taskID,
		actions: ActionResult{
			ConnectionMade:   No,
			SubmittedComment: No,
			LikedPost:        No,
			FollowedCompany:  No,
			FollowedProfile:  No,
			SentMessage:      No,
			VisitedProfile:   No,
			URLVisited:       startURL,
			Timestamp:        time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// TaskID returns the task this tracker belongs to.
func (t *Tracker) TaskID() string {
	return t.taskID
}

// MarkConnectionMade records a sent connection request. The specific label
// overwrites any generic one.
func (t *Tracker) MarkConnectionMade(details string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actions.ConnectionMade = Yes
	t.actions.ActionPerformed = ActionSendConnectionRequest
	t.setDetailsLocked(details)
}

// MarkCommentSubmitted records a submitted comment. The generic label only
// fills in when nothing more specific is already set.
func (t *Tracker) MarkCommentSubmitted(details string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actions.SubmittedComment = Yes
	if t.actions.ActionPerformed == "" {
		t.actions.ActionPerformed = ActionSubmitComment
	}
	t.setDetailsLocked(details)
}

// MarkPostLiked records a liked post. Generic label, first action wins.
func (t *Tracker) MarkPostLiked(details string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actions.LikedPost = Yes
	if t.actions.ActionPerformed == "" {
		t.actions.ActionPerformed = ActionLikePost
	}
	t.setDetailsLocked(details)
}

// MarkCompanyFollowed records a followed company.
func (t *Tracker) MarkCompanyFollowed(details string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actions.FollowedCompany = Yes
	t.actions.ActionPerformed = ActionFollowCompany
	t.setDetailsLocked(details)
}

// MarkProfileFollowed records a followed profile.
func (t *Tracker) MarkProfileFollowed(details string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actions.FollowedProfile = Yes
	t.actions.ActionPerformed = ActionFollowProfile
	t.setDetailsLocked(details)
}

// MarkMessageSent records a sent message.
func (t *Tracker) MarkMessageSent(details string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actions.SentMessage = Yes
	t.actions.ActionPerformed = ActionSendMessage
	t.setDetailsLocked(details)
}

// MarkProfileVisited records a visited profile, optionally updating the
// visited URL. It never touches the action label.
func (t *Tracker) MarkProfileVisited(url, details string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actions.VisitedProfile = Yes
	if url != "" {
		t.actions.URLVisited = url
	}
	t.setDetailsLocked(details)
}

// SetError records an error message for failed actions.
func (t *Tracker) SetError(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actions.ErrorMessage = message
}

// SetVisitedURL updates the last visited URL.
func (t *Tracker) SetVisitedURL(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actions.URLVisited = url
}

// SetActionPerformed overrides the action label.
func (t *Tracker) SetActionPerformed(action string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actions.ActionPerformed = action
}

// AddDetails appends to the free-text details field, semicolon-joined.
func (t *Tracker) AddDetails(details string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.actions.Details != "" {
		t.actions.Details = t.actions.Details + "; " + details
	} else {
		t.actions.Details = details
	}
}

func (t *Tracker) setDetailsLocked(details string) {
	if details != "" {
		t.actions.Details = details
	}
}

// Results returns a snapshot of the current action flags.
func (t *Tracker) Results() ActionResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.actions
}

// GenerateResult finalizes the outcome record with a fresh timestamp.
func (t *Tracker) GenerateResult(success bool) TaskResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	results := t.actions
	results.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return TaskResult{
		TaskID:  t.taskID,
		Success: success,
		Results: results,
	}
}

// ParseTaskInstruction seeds the expected action label from keyword patterns
// in the instruction. First match wins; the order is load-bearing because
// downstream consumers key off the label.
func (t *Tracker) ParseTaskInstruction(instruction string) {
	lower := strings.ToLower(instruction)

	var action string
	switch {
	case strings.Contains(lower, "connect") || strings.Contains(lower, "connection"):
		action = ActionSendConnectionRequest
	case strings.Contains(lower, "follow company") || strings.Contains(lower, "follow the company"):
		action = ActionFollowCompany
	case strings.Contains(lower, "follow") && strings.Contains(lower, "/in/"):
		action = ActionFollowProfile
	case strings.Contains(lower, "like") && strings.Contains(lower, "comment"):
		action = ActionLikeAndComment
	case strings.Contains(lower, "like"):
		action = ActionLikePost
	case strings.Contains(lower, "comment"):
		action = ActionSubmitComment
	case strings.Contains(lower, "message"):
		action = ActionSendMessage
	case strings.Contains(lower, "visit") || strings.Contains(lower, "go to"):
		action = ActionVisitProfile
	default:
		return
	}

	t.SetActionPerformed(action)
}
