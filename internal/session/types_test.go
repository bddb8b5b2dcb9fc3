package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kocoro-lab/stepflow/internal/plan"
)

func TestBasePlanID(t *testing.T) {
	assert.Equal(t, "trip-booking", BasePlanID("trip-booking@2"))
	assert.Equal(t, "trip-booking", BasePlanID("trip-booking"))
	assert.Equal(t, "p", BasePlanID("p@1@x"))
	assert.Equal(t, "", BasePlanID("@2"))

	s := &Session{PlanID: "trip-booking@2"}
	assert.Equal(t, "trip-booking", s.BasePlanID())
}

func TestStatusHelpers(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, StatusWaitingInput.Terminal())

	assert.True(t, StatusPending.Valid())
	assert.False(t, Status("paused").Valid())
}

func TestSessionValidate(t *testing.T) {
	valid := func() *Session {
		return &Session{ID: "s1", Status: StatusRunning, CurrentStepID: 2}
	}

	assert.NoError(t, valid().Validate())

	s := valid()
	s.ID = ""
	assert.Error(t, s.Validate())

	s = valid()
	s.Status = "paused"
	assert.Error(t, s.Validate())

	s = valid()
	s.Status = StatusWaitingInput
	assert.Error(t, s.Validate(), "waiting_input requires pending input")

	s = valid()
	s.PendingInput = &PendingInput{StepID: 2}
	assert.Error(t, s.Validate(), "pending input requires waiting_input")

	s = valid()
	s.Status = StatusWaitingInput
	s.PendingInput = &PendingInput{StepID: 3}
	assert.Error(t, s.Validate(), "current step must match pending step")

	s = valid()
	s.Status = StatusWaitingInput
	s.PendingInput = &PendingInput{StepID: 2}
	assert.NoError(t, s.Validate())
}

func TestSessionDuration(t *testing.T) {
	created := time.Now()
	s := &Session{CreatedAt: created}
	assert.Zero(t, s.Duration())

	done := created.Add(1500 * time.Millisecond)
	s.CompletedAt = &done
	assert.Equal(t, 1500*time.Millisecond, s.Duration())
}

func TestFilterMatches(t *testing.T) {
	s := &Session{PlanID: "trip-booking@2", Status: StatusCompleted, Platform: "cli"}

	assert.True(t, Filter{}.Matches(s))
	assert.True(t, Filter{PlanID: "trip-booking@2"}.Matches(s))
	assert.False(t, Filter{PlanID: "trip-booking"}.Matches(s))
	assert.True(t, Filter{BasePlanID: "trip-booking"}.Matches(s))
	assert.True(t, Filter{Status: StatusCompleted}.Matches(s))
	assert.False(t, Filter{Status: StatusFailed}.Matches(s))
	assert.True(t, Filter{Platform: "cli"}.Matches(s))
	assert.False(t, Filter{Platform: "web", Status: StatusCompleted}.Matches(s))
}

func TestUpdateApply(t *testing.T) {
	s := &Session{
		ID:            "s1",
		Status:        StatusRunning,
		CurrentStepID: 1,
		PendingInput:  &PendingInput{StepID: 1},
		UpdatedAt:     time.Now().Add(-time.Minute),
	}
	before := s.UpdatedAt

	waiting := StatusWaitingInput
	step := 3
	Update{Status: &waiting, CurrentStepID: &step}.Apply(s)
	assert.Equal(t, StatusWaitingInput, s.Status)
	assert.Equal(t, 3, s.CurrentStepID)
	assert.NotNil(t, s.PendingInput, "untouched fields stay put")
	assert.True(t, s.UpdatedAt.After(before))

	results := []plan.StepResult{{StepID: 1, Success: true}}
	now := time.Now()
	Update{
		StepResults:       results,
		ClearPendingInput: true,
		CompletedAt:       &now,
	}.Apply(s)
	require.Len(t, s.StepResults, 1)
	assert.Nil(t, s.PendingInput)
	assert.Equal(t, &now, s.CompletedAt)
}
