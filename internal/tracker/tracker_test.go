package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTrackerStartsAllNo(t *testing.T) {
	tr := New("task-1", "https://linkedin.com/in/jane")
	results := tr.Results()

	assert.Equal(t, No, results.ConnectionMade)
	assert.Equal(t, No, results.SubmittedComment)
	assert.Equal(t, No, results.LikedPost)
	assert.Equal(t, No, results.FollowedCompany)
	assert.Equal(t, No, results.FollowedProfile)
	assert.Equal(t, No, results.SentMessage)
	assert.Equal(t, No, results.VisitedProfile)
	assert.Empty(t, results.ActionPerformed)
	assert.Equal(t, "https://linkedin.com/in/jane", results.URLVisited)
	assert.NotEmpty(t, results.Timestamp)
}

func TestSpecificActionNotOverwrittenByGeneric(t *testing.T) {
	tr := New("task-1", "")
	tr.MarkConnectionMade("sent invite")
	tr.MarkPostLiked("liked while there")

	results := tr.Results()
	assert.Equal(t, Yes, results.ConnectionMade)
	assert.Equal(t, Yes, results.LikedPost)
	assert.Equal(t, ActionSendConnectionRequest, results.ActionPerformed)
}

func TestSpecificActionOverwritesGeneric(t *testing.T) {
	tr := New("task-1", "")
	tr.MarkPostLiked("")
	assert.Equal(t, ActionLikePost, tr.Results().ActionPerformed)

	tr.MarkMessageSent("")
	assert.Equal(t, ActionSendMessage, tr.Results().ActionPerformed)
}

func TestGenericActionsFirstOneWins(t *testing.T) {
	tr := New("task-1", "")
	tr.MarkCommentSubmitted("")
	tr.MarkPostLiked("")

	results := tr.Results()
	assert.Equal(t, Yes, results.SubmittedComment)
	assert.Equal(t, Yes, results.LikedPost)
	assert.Equal(t, ActionSubmitComment, results.ActionPerformed)
}

func TestProfileVisitedNeverTouchesLabel(t *testing.T) {
	tr := New("task-1", "")
	tr.MarkCompanyFollowed("")
	tr.MarkProfileVisited("https://linkedin.com/company/acme", "")

	results := tr.Results()
	assert.Equal(t, Yes, results.VisitedProfile)
	assert.Equal(t, ActionFollowCompany, results.ActionPerformed)
	assert.Equal(t, "https://linkedin.com/company/acme", results.URLVisited)
}

func TestMarkProfileVisitedKeepsURLWhenEmpty(t *testing.T) {
	tr := New("task-1", "https://linkedin.com/in/jane")
	tr.MarkProfileVisited("", "")
	assert.Equal(t, "https://linkedin.com/in/jane", tr.Results().URLVisited)
}

func TestAddDetailsJoinsWithSemicolon(t *testing.T) {
	tr := New("task-1", "")
	tr.AddDetails("opened profile")
	tr.AddDetails("sent invite")
	assert.Equal(t, "opened profile; sent invite", tr.Results().Details)
}

func TestSetError(t *testing.T) {
	tr := New("task-1", "")
	tr.SetError("element not found")
	assert.Equal(t, "element not found", tr.Results().ErrorMessage)
}

func TestGenerateResultCarriesTaskIDAndSuccess(t *testing.T) {
	tr := New("task-1", "")
	tr.MarkMessageSent("said hello")

	result := tr.GenerateResult(true)
	assert.Equal(t, "task-1", result.TaskID)
	assert.True(t, result.Success)
	assert.Equal(t, Yes, result.Results.SentMessage)
	assert.Equal(t, No, result.Results.ConnectionMade)
	assert.NotEmpty(t, result.Results.Timestamp)
}

func TestFollowCompanyScenario(t *testing.T) {
	tr := New("task-1", "")
	tr.ParseTaskInstruction("Follow the company at linkedin.com/company/acme")
	assert.Equal(t, ActionFollowCompany, tr.Results().ActionPerformed)

	tr.MarkCompanyFollowed("followed acme")
	result := tr.GenerateResult(true)
	assert.Equal(t, Yes, result.Results.FollowedCompany)
	assert.Equal(t, ActionFollowCompany, result.Results.ActionPerformed)
}

func TestParseTaskInstruction(t *testing.T) {
	cases := []struct {
		instruction string
		expected    string
	}{
		{"Connect with Jane Doe", ActionSendConnectionRequest},
		{"Send a connection request", ActionSendConnectionRequest},
		{"Follow company Acme", ActionFollowCompany},
		{"Follow https://linkedin.com/in/jane", ActionFollowProfile},
		{"Like and comment on the latest post", ActionLikeAndComment},
		{"Like the most recent post", ActionLikePost},
		{"Comment on the announcement", ActionSubmitComment},
		{"Send a message to Jane", ActionSendMessage},
		{"Visit the profile page", ActionVisitProfile},
		{"Go to the company page", ActionVisitProfile},
		{"Do something unspecified", ""},
	}

	for _, tc := range cases {
		tr := New("task-1", "")
		tr.ParseTaskInstruction(tc.instruction)
		require.Equal(t, tc.expected, tr.Results().ActionPerformed, "instruction: %q", tc.instruction)
	}
}

func TestParseTaskInstructionConnectBeatsFollow(t *testing.T) {
	tr := New("task-1", "")
	tr.ParseTaskInstruction("Connect with Jane and follow her company")
	assert.Equal(t, ActionSendConnectionRequest, tr.Results().ActionPerformed)
}
