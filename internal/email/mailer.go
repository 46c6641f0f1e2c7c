package email

import (
	"context"
	"sync"
	"time"

	"github.com/apnisec/backend/internal/db"
	"github.com/apnisec/backend/internal/logger"
	"github.com/apnisec/backend/internal/metrics"
)

const (
	defaultQueueSize = 64
	sendTimeout      = 30 * time.Second
)

// Message is one queued outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer dispatches email asynchronously: enqueue never blocks, a full
// queue drops the message, and delivery failures are logged and dropped.
// At-most-once, no retries.
type Mailer struct {
	client  *Client
	queue   chan Message
	workers int
	log     *logger.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewMailer(client *Client, workers int) *Mailer {
	if workers <= 0 {
		workers = 1
	}
	return &Mailer{
		client:  client,
		queue:   make(chan Message, defaultQueueSize),
		workers: workers,
		log:     logger.Default().WithComponent("mailer"),
	}
}

// Start launches the delivery workers.
func (m *Mailer) Start() {
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
}

// Stop closes the queue and waits for in-flight deliveries, or gives up
// when ctx expires.
func (m *Mailer) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.queue) })

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Mailer) worker() {
	defer m.wg.Done()
	for msg := range m.queue {
		metrics.Default().SetMailQueueLength(len(m.queue))
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := m.client.Send(ctx, msg.To, msg.Subject, msg.HTML); err != nil {
			m.log.Error(context.Background(), "failed to send email", err, map[string]interface{}{
				"to":      msg.To,
				"subject": msg.Subject,
			})
		}
		cancel()
	}
}

func (m *Mailer) enqueue(msg Message) {
	if !m.client.Enabled() {
		return
	}

	select {
	case m.queue <- msg:
		metrics.Default().SetMailQueueLength(len(m.queue))
	default:
		m.log.Warn(context.Background(), "mail queue full, dropping message", map[string]interface{}{
			"to":      msg.To,
			"subject": msg.Subject,
		})
	}
}

// SendWelcome queues the post-registration welcome email.
func (m *Mailer) SendWelcome(user *db.User) {
	subject, html := welcomeEmail(user.Name)
	m.enqueue(Message{To: user.Email, Subject: subject, HTML: html})
}

// SendPasswordReset queues the reset-link email.
func (m *Mailer) SendPasswordReset(user *db.User, resetLink string) {
	subject, html := passwordResetEmail(user.Name, resetLink)
	m.enqueue(Message{To: user.Email, Subject: subject, HTML: html})
}

// SendIssueCreated queues the issue-created notification.
func (m *Mailer) SendIssueCreated(user *db.User, issue *db.Issue) {
	subject, html := issueCreatedEmail(user.Name, issue)
	m.enqueue(Message{To: user.Email, Subject: subject, HTML: html})
}
