// Package crm implements the CRM operations on top of the query cache: every
// read is a cache.Query and every write a cache.Mutation.
package crm

import (
	"context"
	"time"

	"crm-backend/internal/cache"
	"crm-backend/internal/notify"
	"crm-backend/internal/remote"
	"crm-backend/internal/supabase"

	"github.com/sirupsen/logrus"
)

// Remote function names.
const (
	FnSendWhatsApp      = "send-whatsapp-message"
	FnProcessAutomation = "process-automation-queue"
)

// Authenticator creates accounts on the managed auth service.
type Authenticator interface {
	SignUp(ctx context.Context, email, password string, data map[string]interface{}) (*supabase.SignUpResponse, error)
	SignIn(ctx context.Context, email, password string) (*supabase.SignInResponse, error)
}

type Deps struct {
	Cache     *cache.QueryClient
	Remote    remote.Client
	Functions remote.Functions
	Auth      Authenticator
	Sink      cache.Sink
	Log       logrus.FieldLogger

	// InvitationCode is the only code accepted at sign-up.
	InvitationCode string
}

type Service struct {
	qc     *cache.QueryClient
	db     remote.Client
	fn     remote.Functions
	auth   Authenticator
	sink   cache.Sink
	log    logrus.FieldLogger
	invite string
	now    func() time.Time
}

func NewService(d Deps) *Service {
	log := d.Log
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	return &Service{
		qc:     d.Cache,
		db:     d.Remote,
		fn:     d.Functions,
		auth:   d.Auth,
		sink:   d.Sink,
		log:    log.WithField("component", "crm"),
		invite: d.InvitationCode,
		now:    time.Now,
	}
}

func (s *Service) Cache() *cache.QueryClient { return s.qc }

// listRead is the read policy for lists: a failed list renders empty.
var listRead = cache.QueryOptions{Fallback: cache.FallbackEmpty}

var itemRead = cache.QueryOptions{}

// guardRead is the policy for lists a write decides on. A failed read must
// not look like an empty list there.
var guardRead = cache.QueryOptions{}

// mutate runs one pessimistic write with the shared error translation.
func mutate[In, Out any](ctx context.Context, s *Service, in In, run func(ctx context.Context, in In) (Out, error), opts cache.MutationOptions[In, Out]) (Out, error) {
	return newMutation(s, run, opts).Mutate(ctx, in)
}

func newMutation[In, Out any](s *Service, run func(ctx context.Context, in In) (Out, error), opts cache.MutationOptions[In, Out]) *cache.Mutation[In, Out] {
	opts.Translate = notify.Translate
	return cache.NewMutation(s.qc, s.sink, run, opts)
}
