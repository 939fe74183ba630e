package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/autoenrol/internal/models"
	"github.com/noah-isme/autoenrol/internal/rules"
	"github.com/noah-isme/autoenrol/pkg/config"
)

var testNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// host is an in-memory stand-in for every store the engine talks to.
type host struct {
	now        time.Time
	instances  map[string]*models.EnrolmentInstance
	enrolments map[string]*models.UserEnrolment
	users      map[string]*models.User
	custom     map[string]map[string]string
	courses    map[string]*models.Course
	groups     map[string]*models.Group
	members    map[string]map[string]bool
	roles      []models.RoleAssignment
	external   map[string]string
	lastAccess map[string]time.Time
	assignable map[string]bool
	contact    *models.Contact
	outbox     []*models.Message
	notified   map[string]time.Time
	seq        int

	failGroupAdd error
	countCalls   int
	otherCalls   int
}

func newHost() *host {
	return &host{
		now:        testNow,
		instances:  map[string]*models.EnrolmentInstance{},
		enrolments: map[string]*models.UserEnrolment{},
		users:      map[string]*models.User{},
		custom:     map[string]map[string]string{},
		courses:    map[string]*models.Course{"c1": {ID: "c1", FullName: "Physics 101", ShortName: "PHY101"}},
		groups:     map[string]*models.Group{},
		members:    map[string]map[string]bool{},
		external:   map[string]string{},
		lastAccess: map[string]time.Time{},
		assignable: map[string]bool{"student": true},
		notified:   map[string]time.Time{},
	}
}

func (h *host) clock() time.Time { return h.now }

func (h *host) addInstance(i models.EnrolmentInstance) *models.EnrolmentInstance {
	if i.Plugin == "" {
		i.Plugin = models.PluginName
	}
	if i.CourseID == "" {
		i.CourseID = "c1"
	}
	if i.Status == "" {
		i.Status = models.InstanceStatusEnabled
	}
	if i.RoleID == "" {
		i.RoleID = "student"
	}
	if i.EnrolMethod == "" {
		i.EnrolMethod = models.EnrolOnLogin
	}
	if i.GroupByField == "" {
		i.GroupByField = models.NoGroupField
	}
	if i.WelcomeMessageMode == "" {
		i.WelcomeMessageMode = models.WelcomeOff
	}
	if i.ExpiryNotifyMode == "" {
		i.ExpiryNotifyMode = models.ExpiryNotifyOff
	}
	stored := i
	h.instances[i.ID] = &stored
	return &stored
}

func (h *host) addUser(u models.User) *models.User {
	stored := u
	h.users[u.ID] = &stored
	return &stored
}

func (h *host) addEnrolment(e models.UserEnrolment) *models.UserEnrolment {
	if e.ID == "" {
		h.seq++
		e.ID = fmt.Sprintf("ue-seed-%d", h.seq)
	}
	if e.Status == "" {
		e.Status = models.UserEnrolmentActive
	}
	stored := e
	h.enrolments[e.ID] = &stored
	return &stored
}

func (h *host) enrolment(instanceID, userID string) *models.UserEnrolment {
	for _, e := range h.enrolments {
		if e.InstanceID == instanceID && e.UserID == userID {
			return e
		}
	}
	return nil
}

func (h *host) userGroups(courseID, userID, prefix string) []string {
	var names []string
	for id, m := range h.members {
		g := h.groups[id]
		if g == nil || g.CourseID != courseID || !strings.HasPrefix(g.IDNumber, prefix) {
			continue
		}
		if m[userID] {
			names = append(names, g.Name)
		}
	}
	sort.Strings(names)
	return names
}

func (h *host) hasRole(userID, itemID string) bool {
	for _, r := range h.roles {
		if r.UserID == userID && r.ItemID == itemID {
			return true
		}
	}
	return false
}

type fakeInstances struct{ h *host }

func (f fakeInstances) FindByID(ctx context.Context, id string) (*models.EnrolmentInstance, error) {
	i, ok := f.h.instances[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	dup := *i
	return &dup, nil
}

func (f fakeInstances) List(ctx context.Context, filter models.InstanceFilter) ([]models.EnrolmentInstance, error) {
	var out []models.EnrolmentInstance
	for _, i := range f.h.instances {
		if i.Plugin != models.PluginName {
			continue
		}
		if filter.CourseID != "" && i.CourseID != filter.CourseID {
			continue
		}
		if filter.Status != "" && i.Status != filter.Status {
			continue
		}
		if filter.NewEnrolsAllowed != nil && i.NewEnrolsAllowed != *filter.NewEnrolsAllowed {
			continue
		}
		if filter.WithNoSeeOnly && i.LongtimeNoSeeThreshold <= 0 {
			continue
		}
		if filter.WithExpiryNotify && (i.ExpiryNotifyMode == models.ExpiryNotifyOff || i.ExpiryThreshold <= 0) {
			continue
		}
		out = append(out, *i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (f fakeInstances) Create(ctx context.Context, instance *models.EnrolmentInstance) error {
	if instance.ID == "" {
		instance.ID = "inst-new"
	}
	f.h.addInstance(*instance)
	return nil
}

func (f fakeInstances) SetNewEnrolsAllowed(ctx context.Context, id string, allowed bool) error {
	i, ok := f.h.instances[id]
	if !ok {
		return sql.ErrNoRows
	}
	i.NewEnrolsAllowed = allowed
	return nil
}

func (f fakeInstances) UpdateRole(ctx context.Context, id, roleID string) error {
	i, ok := f.h.instances[id]
	if !ok {
		return sql.ErrNoRows
	}
	i.RoleID = roleID
	return nil
}

func (f fakeInstances) Delete(ctx context.Context, id string) error {
	if _, ok := f.h.instances[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.h.instances, id)
	return nil
}

type fakeEnrolments struct{ h *host }

func (f fakeEnrolments) Find(ctx context.Context, instanceID, userID string) (*models.UserEnrolment, error) {
	e := f.h.enrolment(instanceID, userID)
	if e == nil {
		return nil, nil
	}
	dup := *e
	return &dup, nil
}

func (f fakeEnrolments) CountByInstance(ctx context.Context, instanceID string) (int, error) {
	f.h.countCalls++
	n := 0
	for _, e := range f.h.enrolments {
		if e.InstanceID == instanceID {
			n++
		}
	}
	return n, nil
}

func (f fakeEnrolments) HasOtherActive(ctx context.Context, courseID, userID, excludeInstanceID, roleID string, now time.Time) (bool, error) {
	f.h.otherCalls++
	if role, ok := f.h.external[courseID+"|"+userID]; ok && (roleID == "" || role == roleID) {
		return true, nil
	}
	for _, e := range f.h.enrolments {
		i := f.h.instances[e.InstanceID]
		if i == nil || i.ID == excludeInstanceID || i.CourseID != courseID || e.UserID != userID {
			continue
		}
		if roleID != "" && i.RoleID != roleID {
			continue
		}
		if e.IsActive(now) {
			return true, nil
		}
	}
	return false, nil
}

func (f fakeEnrolments) Create(ctx context.Context, enrolment *models.UserEnrolment) (bool, error) {
	if f.h.enrolment(enrolment.InstanceID, enrolment.UserID) != nil {
		return false, nil
	}
	dup := *enrolment
	f.h.enrolments[enrolment.ID] = &dup
	return true, nil
}

func (f fakeEnrolments) UpdateStatus(ctx context.Context, id string, status models.UserEnrolmentStatus) (bool, error) {
	e, ok := f.h.enrolments[id]
	if !ok {
		return false, sql.ErrNoRows
	}
	if e.Status == status {
		return false, nil
	}
	e.Status = status
	return true, nil
}

func (f fakeEnrolments) Delete(ctx context.Context, id string) error {
	if _, ok := f.h.enrolments[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.h.enrolments, id)
	return nil
}

func (f fakeEnrolments) DeleteByInstance(ctx context.Context, instanceID string) error {
	for id, e := range f.h.enrolments {
		if e.InstanceID == instanceID {
			delete(f.h.enrolments, id)
		}
	}
	return nil
}

func (f fakeEnrolments) ListByInstance(ctx context.Context, instanceID string) ([]models.UserEnrolment, error) {
	var out []models.UserEnrolment
	for _, e := range f.h.enrolments {
		if e.InstanceID == instanceID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UserID < out[b].UserID })
	return out, nil
}

func (f fakeEnrolments) MarkExpiryNotified(ctx context.Context, id string, at time.Time) error {
	e, ok := f.h.enrolments[id]
	if !ok {
		return sql.ErrNoRows
	}
	e.ExpiryNotifiedAt = &at
	f.h.notified[id] = at
	return nil
}

func (f fakeEnrolments) each(match func(*models.UserEnrolment, *models.EnrolmentInstance) bool, fn func(models.EnrolmentActivity) error) error {
	var rows []models.EnrolmentActivity
	for _, e := range f.h.enrolments {
		i := f.h.instances[e.InstanceID]
		if i == nil || !match(e, i) {
			continue
		}
		row := models.EnrolmentActivity{UserEnrolment: *e, CourseID: i.CourseID}
		if u := f.h.users[e.UserID]; u != nil {
			row.LastLogin = u.LastLogin
		}
		if at, ok := f.h.lastAccess[i.CourseID+"|"+e.UserID]; ok {
			at := at
			row.LastAccess = &at
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(a, b int) bool { return rows[a].UserID < rows[b].UserID })
	for _, row := range rows {
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func (f fakeEnrolments) StreamInactiveByLogin(ctx context.Context, instanceID string, cutoff time.Time, fn func(models.EnrolmentActivity) error) error {
	return f.each(func(e *models.UserEnrolment, i *models.EnrolmentInstance) bool {
		if e.InstanceID != instanceID || !e.TimeStart.Before(cutoff) {
			return false
		}
		u := f.h.users[e.UserID]
		return u == nil || u.LastLogin == nil || u.LastLogin.Before(cutoff)
	}, fn)
}

func (f fakeEnrolments) StreamInactiveByAccess(ctx context.Context, instanceID string, cutoff time.Time, fn func(models.EnrolmentActivity) error) error {
	return f.each(func(e *models.UserEnrolment, i *models.EnrolmentInstance) bool {
		if e.InstanceID != instanceID || !e.TimeStart.Before(cutoff) {
			return false
		}
		at, ok := f.h.lastAccess[i.CourseID+"|"+e.UserID]
		return ok && at.Before(cutoff)
	}, fn)
}

func (f fakeEnrolments) StreamExpired(ctx context.Context, courseID string, now time.Time, fn func(models.EnrolmentActivity) error) error {
	return f.each(func(e *models.UserEnrolment, i *models.EnrolmentInstance) bool {
		if courseID != "" && i.CourseID != courseID {
			return false
		}
		return e.Status == models.UserEnrolmentActive && e.Expired(now)
	}, fn)
}

func (f fakeEnrolments) StreamExpiring(ctx context.Context, instanceID string, now, until time.Time, fn func(models.EnrolmentActivity) error) error {
	return f.each(func(e *models.UserEnrolment, i *models.EnrolmentInstance) bool {
		if e.InstanceID != instanceID || e.Status != models.UserEnrolmentActive || e.ExpiryNotifiedAt != nil || e.TimeEnd == nil {
			return false
		}
		return e.TimeEnd.After(now) && !e.TimeEnd.After(until)
	}, fn)
}

type fakeUsers struct{ h *host }

func (f fakeUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := f.h.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	dup := *u
	return &dup, nil
}

func (f fakeUsers) Exists(ctx context.Context, id string) (bool, error) {
	u, ok := f.h.users[id]
	return ok && !u.Deleted, nil
}

func (f fakeUsers) StreamSyncCandidates(ctx context.Context, guestUsername string, fn func(*models.User) error) error {
	ids := make([]string, 0, len(f.h.users))
	for id := range f.h.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		u := *f.h.users[id]
		if u.Deleted || u.Suspended || u.SiteAdmin || u.Username == guestUsername {
			continue
		}
		if err := fn(&u); err != nil {
			return err
		}
	}
	return nil
}

func (f fakeUsers) CustomFields(ctx context.Context, userID string) (map[string]string, error) {
	return f.h.custom[userID], nil
}

type fakeGroups struct{ h *host }

func (f fakeGroups) find(match func(*models.Group) bool) *models.Group {
	ids := make([]string, 0, len(f.h.groups))
	for id := range f.h.groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if g := f.h.groups[id]; match(g) {
			dup := *g
			return &dup
		}
	}
	return nil
}

func (f fakeGroups) FindByIDNumber(ctx context.Context, courseID, idnumber string) (*models.Group, error) {
	return f.find(func(g *models.Group) bool { return g.CourseID == courseID && g.IDNumber == idnumber }), nil
}

func (f fakeGroups) FindByName(ctx context.Context, courseID, name string) (*models.Group, error) {
	return f.find(func(g *models.Group) bool { return g.CourseID == courseID && g.Name == name }), nil
}

func (f fakeGroups) Create(ctx context.Context, group *models.Group) (*models.Group, error) {
	if existing, _ := f.FindByIDNumber(ctx, group.CourseID, group.IDNumber); existing != nil {
		return existing, nil
	}
	dup := *group
	f.h.groups[group.ID] = &dup
	return group, nil
}

func (f fakeGroups) ListByIDNumberPrefix(ctx context.Context, courseID, prefix string) ([]models.Group, error) {
	var out []models.Group
	for _, g := range f.h.groups {
		if g.CourseID == courseID && strings.HasPrefix(g.IDNumber, prefix) {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (f fakeGroups) ListUserGroupsByPrefix(ctx context.Context, courseID, userID, prefix string) ([]models.Group, error) {
	var out []models.Group
	for id, m := range f.h.members {
		g := f.h.groups[id]
		if g != nil && m[userID] && g.CourseID == courseID && strings.HasPrefix(g.IDNumber, prefix) {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (f fakeGroups) AddMember(ctx context.Context, groupID, userID, component, itemID string) error {
	if f.h.failGroupAdd != nil {
		return f.h.failGroupAdd
	}
	if f.h.members[groupID] == nil {
		f.h.members[groupID] = map[string]bool{}
	}
	f.h.members[groupID][userID] = true
	return nil
}

func (f fakeGroups) RemoveMember(ctx context.Context, groupID, userID string) error {
	delete(f.h.members[groupID], userID)
	return nil
}

func (f fakeGroups) Delete(ctx context.Context, groupID string) error {
	delete(f.h.groups, groupID)
	delete(f.h.members, groupID)
	return nil
}

type fakeRoles struct{ h *host }

func (f fakeRoles) IsAssignable(ctx context.Context, roleID string) (bool, error) {
	return f.h.assignable[roleID], nil
}

func (f fakeRoles) Assign(ctx context.Context, a models.RoleAssignment) error {
	for _, r := range f.h.roles {
		if r.RoleID == a.RoleID && r.UserID == a.UserID && r.CourseID == a.CourseID && r.Component == a.Component && r.ItemID == a.ItemID {
			return nil
		}
	}
	f.h.roles = append(f.h.roles, a)
	return nil
}

func (f fakeRoles) UnassignAll(ctx context.Context, userID, courseID, component, itemID string) error {
	kept := f.h.roles[:0]
	for _, r := range f.h.roles {
		if r.UserID == userID && r.CourseID == courseID && r.Component == component && r.ItemID == itemID {
			continue
		}
		kept = append(kept, r)
	}
	f.h.roles = kept
	return nil
}

func (f fakeRoles) UnassignItem(ctx context.Context, component, itemID string) error {
	kept := f.h.roles[:0]
	for _, r := range f.h.roles {
		if r.Component == component && r.ItemID == itemID {
			continue
		}
		kept = append(kept, r)
	}
	f.h.roles = kept
	return nil
}

func (f fakeRoles) FirstContact(ctx context.Context, courseID string, roles []string) (*models.Contact, error) {
	if f.h.contact == nil || len(roles) == 0 {
		return nil, nil
	}
	dup := *f.h.contact
	return &dup, nil
}

type fakeCourses struct{ h *host }

func (f fakeCourses) FindByID(ctx context.Context, id string) (*models.Course, error) {
	c, ok := f.h.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	dup := *c
	return &dup, nil
}

type fakeOutbox struct{ h *host }

func (f fakeOutbox) Enqueue(ctx context.Context, message *models.Message) error {
	f.h.outbox = append(f.h.outbox, message)
	return nil
}

// engine wires real services over the in-memory host.
type engine struct {
	h        *host
	manager  *EnrolmentManager
	groups   *GroupService
	messages *MessageService
	sync     *SyncService
	sweep    *ExpirationService
	expiry   *ExpiryProcessor
	metrics  *MetricsService
}

type engineOption func(*config.Config)

func withUnenrolAction(action string) engineOption {
	return func(c *config.Config) { c.Autoenrol.UnenrolAction = action }
}

func withExpiredAction(action string) engineOption {
	return func(c *config.Config) { c.Autoenrol.ExpiredAction = action }
}

func withRetention(policy string) engineOption {
	return func(c *config.Config) { c.Autoenrol.RoleRetention = policy }
}

func withPluginDisabled() engineOption {
	return func(c *config.Config) { c.Autoenrol.Enabled = false }
}

func newEngine(opts ...engineOption) *engine {
	cfg := &config.Config{
		Autoenrol: config.AutoenrolConfig{
			Enabled:             true,
			UnenrolAction:       config.ActionUnenrol,
			ExpiredAction:       config.ActionSuspend,
			RoleRetention:       config.RetainForAnyEnrolment,
			AvailabilityPlugins: []string{rules.ProfileConditionType},
			SiteURL:             "https://lms.example.org",
			NoReplyAddress:      "noreply@example.org",
			CourseContactRoles:  []string{"editingteacher"},
			GuestUsername:       "guest",
		},
		Batch: config.BatchConfig{CheckEvery: 1},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	h := newHost()
	resolver := rules.NewResolver(fakeUsers{h})
	builder := rules.NewBuilder(resolver, rules.NewRegistry(resolver, cfg.Autoenrol.AvailabilityPlugins, nil))
	metrics := NewMetricsService()

	groups := NewGroupService(fakeGroups{h}, resolver, nil)
	groups.now = h.clock
	manager := NewEnrolmentManager(fakeEnrolments{h}, fakeRoles{h}, groups, cfg.Autoenrol.RoleRetention, nil)
	manager.now = h.clock
	messages := NewMessageService(fakeCourses{h}, fakeRoles{h}, fakeUsers{h}, fakeOutbox{h}, nil, MessageConfig{
		SiteURL:        cfg.Autoenrol.SiteURL,
		NoReplyAddress: cfg.Autoenrol.NoReplyAddress,
		ContactRoles:   cfg.Autoenrol.CourseContactRoles,
	})
	messages.now = h.clock

	syncSvc := NewSyncService(fakeInstances{h}, fakeEnrolments{h}, fakeUsers{h}, builder, manager, groups, messages, nil, metrics, nil, SyncConfig{
		Enabled:       cfg.Autoenrol.Enabled,
		GuestUsername: cfg.Autoenrol.GuestUsername,
		UnenrolAction: cfg.Autoenrol.UnenrolAction,
		Budget:        cfg.Batch,
	})
	syncSvc.now = h.clock

	expiry := NewExpiryProcessor(fakeInstances{h}, fakeEnrolments{h}, manager, messages, cfg.Autoenrol.ExpiredAction, metrics, nil)
	expiry.now = h.clock
	sweep := NewExpirationService(fakeInstances{h}, fakeEnrolments{h}, manager, expiry, metrics, nil, ExpirationConfig{
		Enabled: cfg.Autoenrol.Enabled,
		Budget:  cfg.Batch,
	})
	sweep.now = h.clock

	return &engine{h: h, manager: manager, groups: groups, messages: messages, sync: syncSvc, sweep: sweep, expiry: expiry, metrics: metrics}
}

func legacyRule(field, value string) types.NullJSONText {
	return models.RuleJSON(fmt.Sprintf(`{"field":%q,"value":%q}`, field, value))
}

var errBoom = errors.New("boom")
