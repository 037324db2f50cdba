package notify

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"challenge-service/internal/domain"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

type SendgridConfig struct {
	APIKey    string
	FromName  string
	FromEmail string
	// Host overrides the Sendgrid API host.
	Host string
}

// SendgridDispatcher emails notifications through Sendgrid. Each message is sent on its own
// goroutine.
type SendgridDispatcher struct {
	key        string
	host       string
	from       *sgmail.Email
	subjPrefix string
	book       AddressBook
	log        logrus.FieldLogger
	wg         sync.WaitGroup
}

func NewSendgridDispatcher(cfg SendgridConfig, book AddressBook, log logrus.FieldLogger) *SendgridDispatcher {
	host := cfg.Host
	if host == "" {
		host = sendgridHost
	}
	return &SendgridDispatcher{
		key:        cfg.APIKey,
		host:       host,
		from:       sgmail.NewEmail(cfg.FromName, cfg.FromEmail),
		subjPrefix: "[" + cfg.FromName + "] ",
		book:       book,
		log:        log,
	}
}

func (d *SendgridDispatcher) Dispatch(ctx context.Context, n domain.Notification) {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.send(ctx, n)
	}()
}

// Wait blocks until every in-flight message was handed to Sendgrid.
func (d *SendgridDispatcher) Wait() {
	d.wg.Wait()
}

func (d *SendgridDispatcher) send(ctx context.Context, n domain.Notification) {
	log := d.log.WithFields(logrus.Fields{"user_id": n.UserID, "kind": n.Kind})

	to, err := d.book.Lookup(ctx, n.UserID)
	if errors.Is(err, ErrNoAddress) {
		log.Debug("skip notification, no address")
		return
	}
	if err != nil {
		log.WithError(err).Warn("resolve notification address")
		return
	}

	req := sendgrid.GetRequest(d.key, sendgridEndpoint, d.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(d.prepare(to, n))

	res, err := sendgrid.API(req)
	if err != nil {
		log.WithError(err).Error("sending notification email")
		return
	}
	if res.StatusCode >= http.StatusBadRequest {
		log.WithFields(logrus.Fields{"status": res.StatusCode, "body": res.Body}).Error("sending notification email")
	}
}

func (d *SendgridDispatcher) prepare(to Address, n domain.Notification) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = d.subjPrefix + n.Subject
	p.AddTos(sgmail.NewEmail(to.Name, to.Email))
	p.SetCustomArg("kind", string(n.Kind))

	m := sgmail.NewV3Mail()
	m.SetFrom(d.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", n.Body))
	return m
}
