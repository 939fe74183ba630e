package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	xhtml "golang.org/x/net/html"

	"github.com/noah-isme/autoenrol/internal/models"
)

// DefaultWelcomeText is used when an instance has no custom welcome text.
const DefaultWelcomeText = "Welcome to {$a->coursename}!\n\nIf you have not done so already, you should edit your profile page so that we can learn more about you:\n\n  {$a->profileurl}"

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type contactFinder interface {
	FirstContact(ctx context.Context, courseID string, roleShortNames []string) (*models.Contact, error)
}

type messageOutbox interface {
	Enqueue(ctx context.Context, message *models.Message) error
}

type recipientReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// MessageConfig configures sender resolution and link building.
type MessageConfig struct {
	SiteURL        string
	NoReplyAddress string
	ContactRoles   []string
}

// MessageService formats welcome and expiry messages and queues them in the
// outbox. Delivery is the host's job.
type MessageService struct {
	courses  courseReader
	contacts contactFinder
	users    recipientReader
	outbox   messageOutbox
	cfg      MessageConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewMessageService constructs MessageService.
func NewMessageService(courses courseReader, contacts contactFinder, users recipientReader, outbox messageOutbox, logger *zap.Logger, cfg MessageConfig) *MessageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")
	return &MessageService{courses: courses, contacts: contacts, users: users, outbox: outbox, cfg: cfg, logger: logger, now: time.Now}
}

// SendWelcome queues the instance's welcome message for a newly enrolled user.
func (s *MessageService) SendWelcome(ctx context.Context, instance *models.EnrolmentInstance, user *models.User) error {
	if instance.WelcomeMessageMode == models.WelcomeOff || instance.WelcomeMessageMode == "" {
		return nil
	}
	course, err := s.courses.FindByID(ctx, instance.CourseID)
	if err != nil {
		return fmt.Errorf("load course: %w", err)
	}
	sender, err := s.sender(ctx, instance)
	if err != nil {
		return err
	}

	text := instance.WelcomeMessageText
	if strings.TrimSpace(text) == "" {
		text = DefaultWelcomeText
	}
	plain, rich := renderBody(text, s.placeholders(course, user))

	message := s.newMessage(models.MessageWelcome, course.ID, user.ID, sender)
	message.Subject = "Welcome to " + course.FullName
	message.BodyText = plain
	message.BodyHTML = rich
	if err := s.outbox.Enqueue(ctx, message); err != nil {
		return fmt.Errorf("queue welcome message: %w", err)
	}
	s.logger.Debug("welcome message queued",
		zap.String("instance_id", instance.ID), zap.String("user_id", user.ID), zap.Bool("no_reply", sender.NoReply))
	return nil
}

// SendExpiryNotice tells the enroller, and in ALL mode the enrolled user,
// that an enrolment is about to end. It returns how many messages were queued.
func (s *MessageService) SendExpiryNotice(ctx context.Context, instance *models.EnrolmentInstance, enrolment *models.UserEnrolment) (int, error) {
	if instance.ExpiryNotifyMode == models.ExpiryNotifyOff || instance.ExpiryNotifyMode == "" || enrolment.TimeEnd == nil {
		return 0, nil
	}
	course, err := s.courses.FindByID(ctx, instance.CourseID)
	if err != nil {
		return 0, fmt.Errorf("load course: %w", err)
	}
	user, err := s.users.FindByID(ctx, enrolment.UserID)
	if err != nil {
		return 0, fmt.Errorf("load user: %w", err)
	}
	contact, err := s.contacts.FirstContact(ctx, instance.CourseID, s.cfg.ContactRoles)
	if err != nil {
		return 0, fmt.Errorf("find course contact: %w", err)
	}

	ends := enrolment.TimeEnd.UTC().Format("2006-01-02 15:04 MST")
	subject := fmt.Sprintf("Enrolment expiry notification in %s", course.FullName)
	sent := 0

	if instance.ExpiryNotifyMode == models.ExpiryNotifyAll {
		body := fmt.Sprintf("Dear %s,\n\nyour enrolment in course %s is going to expire on %s.\n\n%s",
			user.FullName(), course.FullName, ends, s.courseURL(course.ID))
		from := s.noReply()
		if contact != nil {
			from = *contact
		}
		if err := s.queue(ctx, models.MessageExpiryNotice, course.ID, user.ID, from, subject, body); err != nil {
			return sent, err
		}
		sent++
	}

	if contact != nil && contact.UserID != "" && contact.UserID != user.ID {
		body := fmt.Sprintf("Dear %s,\n\nthe enrolment of %s (%s) in course %s is going to expire on %s.",
			contact.Name, user.FullName(), user.Email, course.FullName, ends)
		if err := s.queue(ctx, models.MessageExpiryNotice, course.ID, contact.UserID, s.noReply(), subject, body); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func (s *MessageService) queue(ctx context.Context, kind models.MessageKind, courseID, recipientID string, from models.Contact, subject, body string) error {
	plain, rich := body, plainToHTML(body)
	message := s.newMessage(kind, courseID, recipientID, from)
	message.Subject = subject
	message.BodyText = plain
	message.BodyHTML = rich
	if err := s.outbox.Enqueue(ctx, message); err != nil {
		return fmt.Errorf("queue %s message: %w", strings.ToLower(string(kind)), err)
	}
	return nil
}

func (s *MessageService) newMessage(kind models.MessageKind, courseID, recipientID string, from models.Contact) *models.Message {
	return &models.Message{
		ID:          uuid.NewString(),
		Kind:        kind,
		CourseID:    courseID,
		RecipientID: recipientID,
		SenderID:    from.UserID,
		SenderName:  from.Name,
		SenderEmail: from.Email,
		CreatedAt:   s.now().UTC(),
	}
}

func (s *MessageService) sender(ctx context.Context, instance *models.EnrolmentInstance) (models.Contact, error) {
	if instance.WelcomeMessageMode != models.WelcomeCourseContact {
		return s.noReply(), nil
	}
	contact, err := s.contacts.FirstContact(ctx, instance.CourseID, s.cfg.ContactRoles)
	if err != nil {
		return models.Contact{}, fmt.Errorf("find course contact: %w", err)
	}
	if contact == nil {
		return s.noReply(), nil
	}
	return *contact, nil
}

func (s *MessageService) noReply() models.Contact {
	return models.Contact{Name: "No reply", Email: s.cfg.NoReplyAddress, NoReply: true}
}

// placeholders returns old/new pairs for strings.NewReplacer.
func (s *MessageService) placeholders(course *models.Course, user *models.User) []string {
	return []string{
		"{$a->coursename}", course.FullName,
		"{$a->profileurl}", fmt.Sprintf("%s/user/view.php?id=%s&course=%s", s.cfg.SiteURL, user.ID, course.ID),
		"{$a->link}", s.courseURL(course.ID),
		"{$a->fullname}", user.FullName(),
		"{$a->email}", user.Email,
	}
}

func (s *MessageService) courseURL(courseID string) string {
	return fmt.Sprintf("%s/course/view.php?id=%s", s.cfg.SiteURL, courseID)
}

// renderBody substitutes pairs into template and returns plain and HTML
// renditions. The template decides the format: one containing "<" is HTML,
// anything else plain text. Values are escaped in the HTML rendition.
func renderBody(template string, pairs []string) (string, string) {
	if !strings.Contains(template, "<") {
		plain := strings.NewReplacer(pairs...).Replace(template)
		return plain, plainToHTML(plain)
	}
	escaped := make([]string, len(pairs))
	for i, p := range pairs {
		if i%2 == 1 {
			p = html.EscapeString(p)
		}
		escaped[i] = p
	}
	rich := strings.NewReplacer(escaped...).Replace(template)
	return htmlToText(rich), rich
}

func plainToHTML(text string) string {
	return "<p>" + strings.ReplaceAll(html.EscapeString(text), "\n", "<br />\n") + "</p>"
}

func htmlToText(body string) string {
	var out strings.Builder
	z := xhtml.NewTokenizer(strings.NewReader(body))
	for {
		switch z.Next() {
		case xhtml.ErrorToken:
			// io.EOF or malformed input; either way the text so far is all there is.
			return strings.TrimSpace(out.String())
		case xhtml.TextToken:
			out.Write(z.Text())
		case xhtml.StartTagToken, xhtml.SelfClosingTagToken, xhtml.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "br", "p", "div", "li", "tr", "h1", "h2", "h3", "h4":
				if out.Len() > 0 && !strings.HasSuffix(out.String(), "\n") {
					out.WriteByte('\n')
				}
			}
		}
	}
}
