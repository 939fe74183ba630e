package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/autoenrol/internal/models"
	"github.com/noah-isme/autoenrol/pkg/config"
	"github.com/noah-isme/autoenrol/pkg/trace"
)

const day = 24 * time.Hour

func ago(d time.Duration) *time.Time {
	t := testNow.Add(-d)
	return &t
}

func TestSweepUnenrolsCourseInactiveUser(t *testing.T) {
	e := newEngine()
	e.h.addInstance(models.EnrolmentInstance{ID: "i1", LongtimeNoSeeThreshold: int64((7 * day).Seconds())})
	e.h.addUser(models.User{ID: "u1", LastLogin: ago(day)})
	e.h.addEnrolment(models.UserEnrolment{ID: "ue1", InstanceID: "i1", UserID: "u1", TimeStart: *ago(30 * day)})
	e.h.lastAccess["c1|u1"] = *ago(10 * day)
	e.h.roles = append(e.h.roles, models.RoleAssignment{RoleID: "student", UserID: "u1", CourseID: "c1", Component: models.Component, ItemID: "i1"})
	sink := &trace.Buffer{}

	res, err := e.sweep.Sweep(context.Background(), sink, "")
	require.NoError(t, err)

	assert.Equal(t, models.RunCompleted, res.Status)
	assert.Equal(t, 1, res.Unenrolled)
	assert.Empty(t, e.h.enrolments)
	assert.False(t, e.h.hasRole("u1", "i1"))
	assert.Equal(t, []string{"unenrolling user u1 from course c1 as they have not accessed the course for at least 7 days"}, sink.Lines())
}

func TestSweepUnenrolsUserWhoNeverLoggedIn(t *testing.T) {
	e := newEngine()
	e.h.addInstance(models.EnrolmentInstance{ID: "i1", LongtimeNoSeeThreshold: int64((7 * day).Seconds())})
	e.h.addUser(models.User{ID: "u1"})
	e.h.addUser(models.User{ID: "u2"})
	e.h.addUser(models.User{ID: "u3", LastLogin: ago(time.Hour)})
	e.h.addEnrolment(models.UserEnrolment{InstanceID: "i1", UserID: "u1", TimeStart: *ago(20 * day)})
	e.h.addEnrolment(models.UserEnrolment{InstanceID: "i1", UserID: "u2", TimeStart: *ago(2 * day)})
	e.h.addEnrolment(models.UserEnrolment{InstanceID: "i1", UserID: "u3", TimeStart: *ago(20 * day)})
	e.h.lastAccess["c1|u1"] = *ago(15 * day)
	sink := &trace.Buffer{}

	res, err := e.sweep.Sweep(context.Background(), sink, "")
	require.NoError(t, err)

	assert.Equal(t, 1, res.Unenrolled)
	assert.Nil(t, e.h.enrolment("i1", "u1"))
	assert.NotNil(t, e.h.enrolment("i1", "u2"), "recent enrolments are left alone")
	assert.NotNil(t, e.h.enrolment("i1", "u3"))
	assert.Equal(t, []string{"unenrolling user u1 from course c1 as they did not log in for at least 7 days"}, sink.Lines())
}

func TestSweepLeavesInstancesWithoutThreshold(t *testing.T) {
	e := newEngine()
	e.h.addInstance(models.EnrolmentInstance{ID: "i1"})
	e.h.addUser(models.User{ID: "u1"})
	e.h.addEnrolment(models.UserEnrolment{InstanceID: "i1", UserID: "u1", TimeStart: *ago(400 * day)})

	res, err := e.sweep.Sweep(context.Background(), nil, "")
	require.NoError(t, err)
	assert.Zero(t, res.Unenrolled)
	assert.Len(t, e.h.enrolments, 1)
}

func TestSweepNeverLeavesExpiredEnrolmentActive(t *testing.T) {
	for _, action := range []string{config.ActionSuspend, config.ActionSuspendNoRoles, config.ActionUnenrol, config.ActionKeep} {
		t.Run(action, func(t *testing.T) {
			e := newEngine(withExpiredAction(action))
			e.h.addInstance(models.EnrolmentInstance{ID: "i1"})
			e.h.addUser(models.User{ID: "u1", LastLogin: ago(time.Hour)})
			e.h.addEnrolment(models.UserEnrolment{ID: "ue1", InstanceID: "i1", UserID: "u1", TimeStart: *ago(10 * day), TimeEnd: ago(day)})
			e.h.addEnrolment(models.UserEnrolment{ID: "ue2", InstanceID: "i1", UserID: "u2", TimeStart: *ago(10 * day), TimeEnd: ago(-day)})

			res, err := e.sweep.Sweep(context.Background(), nil, "")
			require.NoError(t, err)

			if got := e.h.enrolments["ue1"]; got != nil {
				assert.False(t, got.IsActive(testNow))
			}
			assert.True(t, e.h.enrolments["ue2"].IsActive(testNow))

			switch action {
			case config.ActionUnenrol:
				assert.Equal(t, 1, res.Expired)
				assert.Nil(t, e.h.enrolments["ue1"])
			case config.ActionKeep:
				assert.Zero(t, res.Expired)
			default:
				assert.Equal(t, 1, res.Suspended)
				assert.Equal(t, models.UserEnrolmentSuspended, e.h.enrolments["ue1"].Status)
			}
		})
	}
}

func TestSweepSendsExpiryNoticeOnce(t *testing.T) {
	e := newEngine()
	e.h.contact = &models.Contact{UserID: "t1", Name: "Tina Teacher", Email: "tina@example.org"}
	e.h.addInstance(models.EnrolmentInstance{ID: "i1", ExpiryNotifyMode: models.ExpiryNotifyAll, ExpiryThreshold: int64((3 * day).Seconds())})
	e.h.addUser(models.User{ID: "u1", FirstName: "Ana", LastName: "Rossi"})
	e.h.addEnrolment(models.UserEnrolment{ID: "ue1", InstanceID: "i1", UserID: "u1", TimeStart: *ago(10 * day), TimeEnd: ago(-day)})

	res, err := e.sweep.Sweep(context.Background(), nil, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Notified)
	require.Len(t, e.h.outbox, 2)
	assert.Equal(t, "u1", e.h.outbox[0].RecipientID)
	assert.Equal(t, "t1", e.h.outbox[1].RecipientID)
	assert.Contains(t, e.h.notified, "ue1")

	res, err = e.sweep.Sweep(context.Background(), nil, "")
	require.NoError(t, err)
	assert.Zero(t, res.Notified)
	assert.Len(t, e.h.outbox, 2)
}

func TestSweepPluginDisabled(t *testing.T) {
	e := newEngine(withPluginDisabled())
	e.h.addInstance(models.EnrolmentInstance{ID: "i1", LongtimeNoSeeThreshold: 1})
	e.h.addEnrolment(models.UserEnrolment{InstanceID: "i1", UserID: "u1", TimeStart: *ago(10 * day)})
	sink := &trace.Buffer{}

	res, err := e.sweep.Sweep(context.Background(), sink, "")
	require.NoError(t, err)
	assert.Equal(t, models.RunDisabled, res.Status)
	assert.Equal(t, []string{"Autoenrol plugin not enabled"}, sink.Lines())
	assert.Len(t, e.h.enrolments, 1)
}

func TestSweepInterruptedKeepsFinishedRows(t *testing.T) {
	e := newEngine()
	e.h.addInstance(models.EnrolmentInstance{ID: "i1", LongtimeNoSeeThreshold: int64(day.Seconds())})
	e.h.addEnrolment(models.UserEnrolment{InstanceID: "i1", UserID: "u1", TimeStart: *ago(10 * day)})
	e.h.addEnrolment(models.UserEnrolment{InstanceID: "i1", UserID: "u2", TimeStart: *ago(10 * day)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.sweep.Sweep(ctx, nil, "")
	require.NoError(t, err)
	assert.Equal(t, models.RunBudget, res.Status)
	assert.Len(t, e.h.enrolments, 2)
}
