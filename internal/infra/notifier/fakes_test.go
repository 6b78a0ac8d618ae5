package notifier

import (
	"context"
	"errors"
	"sync"

	"firebase.google.com/go/v4/messaging"
	"github.com/wneessen/go-mail"
	tele "gopkg.in/telebot.v4"

	"notifyhub/internal/domain/entity"
)

type fakeCreds struct {
	cred *entity.Credential
	err  error
}

func (f *fakeCreds) Get(_ context.Context, tenantID string) (*entity.Credential, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.cred, nil
}

type fakeMulticast struct {
	mu       sync.Mutex
	messages []*messaging.MulticastMessage
	err      error
	// failTokens lists tokens that get a per-token error
	failTokens map[string]bool
}

func (f *fakeMulticast) SendEachForMulticast(_ context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, m)
	if f.err != nil {
		return nil, f.err
	}
	resp := &messaging.BatchResponse{}
	for _, tok := range m.Tokens {
		if f.failTokens[tok] {
			resp.FailureCount++
			resp.Responses = append(resp.Responses, &messaging.SendResponse{Error: errors.New("invalid registration token")})
			continue
		}
		resp.SuccessCount++
		resp.Responses = append(resp.Responses, &messaging.SendResponse{Success: true, MessageID: "m-" + tok})
	}
	return resp, nil
}

type fakeDialer struct {
	mu    sync.Mutex
	calls int
	sent  []*mail.Msg
	err   error
}

func (f *fakeDialer) DialAndSendWithContext(_ context.Context, msgs ...*mail.Msg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msgs...)
	return nil
}

type fakeBot struct {
	mu    sync.Mutex
	sent  map[string]string
	fails map[string]bool
}

func (f *fakeBot) Send(to tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := to.Recipient()
	if f.fails[id] {
		return nil, errors.New("telegram: chat not found (400)")
	}
	if f.sent == nil {
		f.sent = make(map[string]string)
	}
	f.sent[id] = what.(string)
	return &tele.Message{}, nil
}

// staticFactory returns a factory that always yields client and counts builds.
func staticFactory[T any](client T, builds *int) ClientFactory[T] {
	return func(context.Context, *entity.Credential) (T, error) {
		*builds++
		return client, nil
	}
}
