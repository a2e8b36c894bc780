package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LegacyVault/internal/cache"
	"LegacyVault/internal/model"
	"LegacyVault/internal/release"
	"LegacyVault/pkg/errors"
	"LegacyVault/pkg/sms"
	"LegacyVault/pkg/webhook"
)

type fakeWebhooks struct {
	mu    sync.Mutex
	sent  []string
	errFn func(url string) error
}

func (f *fakeWebhooks) Send(_ context.Context, url, deliveryID string, _ interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errFn != nil {
		if err := f.errFn(url); err != nil {
			return err
		}
	}
	f.sent = append(f.sent, deliveryID)
	return nil
}

func notification(recipients ...model.Recipient) []byte {
	body, _ := json.Marshal(model.NotificationMessage{
		MessageID:  "notify:sw-1:1:0",
		SwitchID:   "sw-1",
		Level:      0,
		Category:   "switch_warning",
		Template:   "switch_warning",
		Recipients: recipients,
		Payload:    map[string]string{"switch_name": "primary"},
	})
	return body
}

var (
	smsRecipient  = model.Recipient{ID: "owner", Channel: model.NotifyChannelSMS, Address: "+15550000"}
	hookRecipient = model.Recipient{ID: "c1", Channel: model.NotifyChannelWebhook, Address: "https://hooks.example.com/a"}
)

func newDispatcher(smsClient sms.Client, hooks WebhookSender) *Dispatcher {
	return NewDispatcher(smsClient, hooks, cache.NewMemoryDeduper(), DispatcherConfig{
		SignName:     "LegacyVault",
		TemplateCode: "SMS_100001",
	}, nil)
}

func TestDispatcher_DeliversEachChannel(t *testing.T) {
	smsClient := sms.NewMockClient()
	hooks := &fakeWebhooks{}
	d := newDispatcher(smsClient, hooks)

	require.NoError(t, d.Handle(context.Background(), notification(smsRecipient, hookRecipient)))

	calls := smsClient.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "+15550000", calls[0].Phone)
	assert.Equal(t, "SMS_100001", calls[0].TemplateCode)
	assert.JSONEq(t, `{"switch_name":"primary"}`, calls[0].TemplateParam)
	assert.Equal(t, []string{"notify:sw-1:1:0:c1"}, hooks.sent)
}

func TestDispatcher_DuplicateMessageSkipped(t *testing.T) {
	smsClient := sms.NewMockClient()
	d := newDispatcher(smsClient, &fakeWebhooks{})
	ctx := context.Background()

	require.NoError(t, d.Handle(ctx, notification(smsRecipient)))

	err := d.Handle(ctx, notification(smsRecipient))
	var skip *errors.SkipMessageError
	assert.True(t, stderrors.As(err, &skip))
	assert.Len(t, smsClient.Calls(), 1)
}

func TestDispatcher_PartialFailureRetriesOnlyFailedRecipient(t *testing.T) {
	smsClient := sms.NewMockClient()
	hooks := &fakeWebhooks{}
	d := newDispatcher(smsClient, hooks)
	ctx := context.Background()

	smsClient.FailNext(1)
	err := d.Handle(ctx, notification(smsRecipient, hookRecipient))
	assert.ErrorIs(t, err, errors.TransientDeliveryFailure)
	assert.Len(t, hooks.sent, 1)

	require.NoError(t, d.Handle(ctx, notification(smsRecipient, hookRecipient)))
	assert.Len(t, smsClient.Calls(), 2)
	assert.Len(t, hooks.sent, 1)
}

func TestDispatcher_PermanentRejectionIsNotRetried(t *testing.T) {
	hooks := &fakeWebhooks{errFn: func(string) error { return &webhook.StatusError{StatusCode: 404} }}
	d := newDispatcher(sms.NewMockClient(), hooks)

	assert.NoError(t, d.Handle(context.Background(), notification(hookRecipient)))
}

func TestDispatcher_MalformedMessageSkipped(t *testing.T) {
	d := newDispatcher(sms.NewMockClient(), &fakeWebhooks{})

	err := d.Handle(context.Background(), []byte("{not json"))
	var skip *errors.SkipMessageError
	assert.True(t, stderrors.As(err, &skip))
}

func TestMQNotifier_PublishFailureIsTransient(t *testing.T) {
	var published []interface{}
	ok := func(_ context.Context, exchange, routingKey, messageID string, body interface{}) error {
		assert.Equal(t, "legacy.notify", exchange)
		assert.Equal(t, "legacy.notify.deliver", routingKey)
		assert.Equal(t, "m-1", messageID)
		published = append(published, body)
		return nil
	}
	n := NewNotifierWithPublisher(ok, "legacy.notify", "legacy.notify.deliver", nil)
	require.NoError(t, n.DeliverNotification(context.Background(), release.Notification{MessageID: "m-1", SwitchID: "sw-1"}))
	require.Len(t, published, 1)
	assert.Equal(t, "sw-1", published[0].(model.NotificationMessage).SwitchID)

	failing := func(context.Context, string, string, string, interface{}) error {
		return stderrors.New("channel closed")
	}
	n = NewNotifierWithPublisher(failing, "legacy.notify", "legacy.notify.deliver", nil)
	err := n.DeliverNotification(context.Background(), release.Notification{MessageID: "m-2"})
	assert.ErrorIs(t, err, errors.TransientDeliveryFailure)
}
