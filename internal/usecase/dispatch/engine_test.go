package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyhub/internal/domain/entity"
	"notifyhub/internal/infra/notifier"
)

/* ──────────────────────────── fakes ──────────────────────────── */

type fakeSender struct {
	channel   entity.ChannelType
	err       error
	tenantErr map[string]error
	panics  bool
	delay   time.Duration
	gate    chan struct{}

	mu       sync.Mutex
	calls    int
	tenants  []string
	sizes    []int
	inFlight int
	maxSeen  int
}

func (f *fakeSender) Channel() entity.ChannelType { return f.channel }

func (f *fakeSender) Send(ctx context.Context, tenantID string, devices []*entity.Device, _ notifier.Message) error {
	f.mu.Lock()
	f.calls++
	f.tenants = append(f.tenants, tenantID)
	f.sizes = append(f.sizes, len(devices))
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panics {
		panic("provider exploded")
	}
	if err, ok := f.tenantErr[tenantID]; ok {
		return err
	}
	return f.err
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePolicies struct {
	rows []*entity.ChannelPolicy
	err  error
}

func (f *fakePolicies) List(context.Context) ([]*entity.ChannelPolicy, error) {
	return f.rows, f.err
}

type fakeSink struct {
	mu      sync.Mutex
	records []*entity.DeliveryOutcome
	calls   int
}

func (f *fakeSink) EnqueueRange(_ context.Context, records []*entity.DeliveryOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.records = append(f.records, records...)
	return nil
}

var fixedNow = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, sink OutcomeSink, policies *fakePolicies, senders ...notifier.Sender) *Engine {
	t.Helper()
	clock := WithClock(func() time.Time { return fixedNow })
	if policies == nil {
		return NewEngine(notifier.NewSenders(senders...), nil, sink, nil, clock)
	}
	return NewEngine(notifier.NewSenders(senders...), policies, sink, nil, clock)
}

func device(id int64, tenant string, flags entity.ChannelFlags) *entity.Device {
	return &entity.Device{
		ID:         id,
		TenantID:   tenant,
		PushToken:  fmt.Sprintf("tok-%d", id),
		Email:      fmt.Sprintf("d%d@example.com", id),
		ChatUserID: fmt.Sprint(1000 + id),
		Active:     true,
		Channels:   flags,
	}
}

func allSenders() (push, web, email, chat *fakeSender) {
	return &fakeSender{channel: entity.ChannelPush},
		&fakeSender{channel: entity.ChannelWeb},
		&fakeSender{channel: entity.ChannelEmail},
		&fakeSender{channel: entity.ChannelChat}
}

/* ──────────────────────────── 1. Scenarios ──────────────────────────── */

func TestDispatch_PushAndEmailSucceed(t *testing.T) {
	push, web, email, chat := allSenders()
	sink := &fakeSink{}
	e := newTestEngine(t, sink, nil, push, web, email, chat)

	d1 := device(1, "t1", entity.ChannelFlags{Push: true, Email: true})
	res, err := e.Dispatch(context.Background(), []*entity.Device{d1}, notifier.Message{Title: "T", Body: "B"},
		Options{WriteLog: true, Source: entity.SourceExternal})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Empty(t, res.FailedChannels)
	assert.Equal(t, "Notification sent to 1 devices.", res.Message)
	require.Len(t, res.Outcomes, 2)

	byChannel := map[entity.ChannelType]*entity.DeliveryOutcome{}
	for _, o := range res.Outcomes {
		byChannel[o.Channel] = o
	}
	want := &entity.DeliveryOutcome{
		DeviceID: 1, TenantID: "t1", Channel: entity.ChannelPush, Source: entity.SourceExternal,
		Title: "T", Body: "B", Success: true, Message: "Sent",
		FirstAttemptAt: fixedNow, LastAttemptAt: fixedNow,
	}
	if diff := cmp.Diff(want, byChannel[entity.ChannelPush]); diff != "" {
		t.Errorf("push outcome mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, byChannel[entity.ChannelEmail].Success)

	assert.Equal(t, 1, push.callCount())
	assert.Equal(t, 1, email.callCount())
	assert.Equal(t, 0, web.callCount())
	assert.Equal(t, 0, chat.callCount())

	assert.Equal(t, 1, sink.calls)
	assert.Len(t, sink.records, 2)
}

func TestDispatch_EmailFailureIsIsolated(t *testing.T) {
	push, web, email, chat := allSenders()
	email.err = errors.New("smtp 421 service not available")
	e := newTestEngine(t, nil, nil, push, web, email, chat)

	d1 := device(1, "t1", entity.ChannelFlags{Push: true, Email: true})
	res, err := e.Dispatch(context.Background(), []*entity.Device{d1}, notifier.Message{Title: "T"}, Options{})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, []entity.ChannelType{entity.ChannelEmail}, res.FailedChannels)
	assert.Contains(t, res.Message, "EMAIL")
	assert.Equal(t, "Partial notification failure on channel(s): EMAIL. Total devices: 1.", res.Message)

	for _, o := range res.Outcomes {
		switch o.Channel {
		case entity.ChannelPush:
			assert.True(t, o.Success)
		case entity.ChannelEmail:
			assert.False(t, o.Success)
			assert.Equal(t, 0, o.RetryCount)
			assert.Contains(t, o.Message, "smtp 421")
		default:
			t.Fatalf("unexpected outcome channel %s", o.Channel)
		}
	}
}

func TestDispatch_DeviceWithoutChannelsIsSkipped(t *testing.T) {
	push, web, email, chat := allSenders()
	sink := &fakeSink{}
	e := newTestEngine(t, sink, nil, push, web, email, chat)

	res, err := e.Dispatch(context.Background(), []*entity.Device{device(1, "t1", entity.ChannelFlags{})},
		notifier.Message{Title: "T"}, Options{WriteLog: true})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Empty(t, res.Outcomes)
	assert.Equal(t, 1, res.TotalDevices)
	assert.Equal(t, 0, sink.calls)
	assert.Equal(t, 0, push.callCount()+web.callCount()+email.callCount()+chat.callCount())
}

func TestDispatch_EmptyTargetFails(t *testing.T) {
	push, _, _, _ := allSenders()
	e := newTestEngine(t, nil, nil, push)

	res, err := e.Dispatch(context.Background(), nil, notifier.Message{}, Options{})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrNoEligibleDevices)
}

func TestDispatch_MultipleFailedChannelsInFixedOrder(t *testing.T) {
	push, web, email, chat := allSenders()
	chat.err = errors.New("bot blocked")
	push.err = errors.New("quota")
	e := newTestEngine(t, nil, nil, push, web, email, chat)

	d := device(1, "t1", entity.ChannelFlags{Push: true, Web: true, Email: true, Chat: true})
	res, err := e.Dispatch(context.Background(), []*entity.Device{d}, notifier.Message{}, Options{})
	require.NoError(t, err)

	assert.Equal(t, []entity.ChannelType{entity.ChannelPush, entity.ChannelChat}, res.FailedChannels)
	assert.Contains(t, res.Message, "PUSH,CHAT")
	assert.Len(t, res.Outcomes, 4)
}

/* ──────────────────────────── 2. Isolation ──────────────────────────── */

func TestDispatch_PanicBecomesChannelFailure(t *testing.T) {
	push, web, email, chat := allSenders()
	chat.panics = true
	e := newTestEngine(t, nil, nil, push, web, email, chat)

	d := device(1, "t1", entity.ChannelFlags{Push: true, Chat: true})
	res, err := e.Dispatch(context.Background(), []*entity.Device{d}, notifier.Message{}, Options{})
	require.NoError(t, err)

	assert.Equal(t, []entity.ChannelType{entity.ChannelChat}, res.FailedChannels)
	for _, o := range res.Outcomes {
		if o.Channel == entity.ChannelChat {
			assert.False(t, o.Success)
			assert.Contains(t, o.Message, "panic")
		}
	}
}

func TestDispatch_MissingSenderFailsChannel(t *testing.T) {
	push := &fakeSender{channel: entity.ChannelPush}
	e := newTestEngine(t, nil, nil, push)

	d := device(1, "t1", entity.ChannelFlags{Push: true, Web: true})
	res, err := e.Dispatch(context.Background(), []*entity.Device{d}, notifier.Message{}, Options{})
	require.NoError(t, err)

	assert.Equal(t, []entity.ChannelType{entity.ChannelWeb}, res.FailedChannels)
	for _, o := range res.Outcomes {
		if o.Channel == entity.ChannelWeb {
			assert.Equal(t, entity.FailurePermanent, o.FailureKind)
			assert.Contains(t, o.Message, ErrNoSender.Error())
		}
	}
}

func TestDispatch_LongMultibyteErrorStaysValidUTF8(t *testing.T) {
	email := &fakeSender{channel: entity.ChannelEmail, err: errors.New("xx" + strings.Repeat("郵", 400))}
	e := newTestEngine(t, nil, nil, email)

	res, err := e.Dispatch(context.Background(), []*entity.Device{device(1, "t1", entity.ChannelFlags{Email: true})},
		notifier.Message{}, Options{})
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)

	msg := res.Outcomes[0].Message
	assert.True(t, utf8.ValidString(msg))
	assert.LessOrEqual(t, len(msg), outcomeMessageLimit)
	// "xx" + 3-byte runes: byte 1000 is inside the rune starting at 998
	assert.Equal(t, 998, len(msg))
}

func TestClip(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "smtp 421", 100, "smtp 421"},
		{"ascii cut", "abcdef", 3, "abc"},
		{"rune boundary", "a郵便", 3, "a"},
		{"exact rune end", "a郵便", 4, "a郵"},
		{"invalid bytes replaced", "bad\xffreply", 100, "bad\uFFFDreply"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, clip(tt.in, tt.n))
		})
	}
}

func TestDispatch_SlowChannelDoesNotBlockOthers(t *testing.T) {
	push, web, email, chat := allSenders()
	email.gate = make(chan struct{})
	e := newTestEngine(t, nil, &fakePolicies{rows: []*entity.ChannelPolicy{
		policyWith(entity.ChannelEmail, func(p *entity.ChannelPolicy) { p.MaxConcurrentTasks = 1 }),
	}}, push, web, email, chat)

	devices := make([]*entity.Device, 0, 10)
	for i := int64(1); i <= 10; i++ {
		devices = append(devices, device(i, fmt.Sprintf("t%d", i), entity.ChannelFlags{Push: true, Email: true}))
	}

	done := make(chan *Result, 1)
	go func() {
		res, _ := e.Dispatch(context.Background(), devices, notifier.Message{}, Options{})
		done <- res
	}()

	require.Eventually(t, func() bool { return push.callCount() == 10 }, 2*time.Second, 5*time.Millisecond,
		"push batches should finish while email is blocked")
	assert.Equal(t, 1, email.callCount(), "email slots are exhausted by the blocked batch")

	close(email.gate)
	res := <-done
	assert.True(t, res.Success)
	assert.Equal(t, 10, email.callCount())
	assert.Equal(t, 1, email.maxSeen)
}

func TestAcquireSlot_LimitChangeWaitsForDrain(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	ctx := context.Background()

	release, err := e.acquireSlot(ctx, entity.ChannelPush, 1)
	require.NoError(t, err)

	acquired := make(chan func(), 2)
	for i := 0; i < 2; i++ {
		go func() {
			r, err := e.acquireSlot(ctx, entity.ChannelPush, 2)
			if err == nil {
				acquired <- r
			}
		}()
	}

	select {
	case <-acquired:
		t.Fatal("new limit admitted a batch while the old generation was still running")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	r1 := <-acquired
	r2 := <-acquired
	r1()
	r2()
}

func TestAcquireSlot_CanceledWaiterLeaves(t *testing.T) {
	e := newTestEngine(t, nil, nil)

	release, err := e.acquireSlot(context.Background(), entity.ChannelPush, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = e.acquireSlot(ctx, entity.ChannelPush, 3)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	r, err := e.acquireSlot(context.Background(), entity.ChannelPush, 3)
	require.NoError(t, err)
	r()
}

func TestDispatch_ConcurrencyBoundedPerChannel(t *testing.T) {
	push := &fakeSender{channel: entity.ChannelPush, delay: 20 * time.Millisecond}
	e := newTestEngine(t, nil, &fakePolicies{rows: []*entity.ChannelPolicy{
		policyWith(entity.ChannelPush, func(p *entity.ChannelPolicy) {
			p.MaxConcurrentTasks = 2
			p.BatchSize = 1
		}),
	}}, push)

	devices := make([]*entity.Device, 0, 8)
	for i := int64(1); i <= 8; i++ {
		devices = append(devices, device(i, "t1", entity.ChannelFlags{Push: true}))
	}
	res, err := e.Dispatch(context.Background(), devices, notifier.Message{}, Options{})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 8, push.callCount())
	assert.LessOrEqual(t, push.maxSeen, 2)
}

func TestDispatch_TenantFailuresDoNotOpenOthersCircuit(t *testing.T) {
	email := &fakeSender{channel: entity.ChannelEmail, tenantErr: map[string]error{
		"tenant-a": &notifier.ServerError{StatusCode: 503, Message: "smtp relay unavailable"},
	}}
	e := newTestEngine(t, nil, nil, email)
	send := func(tenant string) *Result {
		res, err := e.Dispatch(context.Background(), []*entity.Device{device(1, tenant, entity.ChannelFlags{Email: true})},
			notifier.Message{Title: "T"}, Options{})
		require.NoError(t, err)
		return res
	}

	for i := 0; i < 5; i++ {
		assert.False(t, send("tenant-a").Success)
	}
	res := send("tenant-a")
	require.Len(t, res.Outcomes, 1)
	assert.Contains(t, res.Outcomes[0].Message, "circuit open")
	assert.Equal(t, entity.FailureTransient, res.Outcomes[0].FailureKind)

	res = send("tenant-b")
	assert.True(t, res.Success, "tenant-b must not share tenant-a's breaker")

	health := e.ChannelHealth()
	assert.Equal(t, "open", health[2].CircuitState)
	assert.Equal(t, []string{"tenant-a"}, health[2].OpenTenants)
}

func TestDispatch_PermanentErrorsDoNotTripBreaker(t *testing.T) {
	email := &fakeSender{channel: entity.ChannelEmail, tenantErr: map[string]error{
		"tenant-a": fmt.Errorf("EMAIL: %w", notifier.ErrNoCredential),
	}}
	e := newTestEngine(t, nil, nil, email)

	for i := 0; i < 10; i++ {
		res, err := e.Dispatch(context.Background(), []*entity.Device{device(1, "tenant-a", entity.ChannelFlags{Email: true})},
			notifier.Message{}, Options{})
		require.NoError(t, err)
		require.Len(t, res.Outcomes, 1)
		assert.Equal(t, entity.FailurePermanent, res.Outcomes[0].FailureKind)
		assert.NotContains(t, res.Outcomes[0].Message, "circuit open")
	}
	assert.Equal(t, 10, email.callCount())
	assert.False(t, e.ChannelHealth()[2].CircuitOpen)
}

/* ──────────────────────────── 3. Grouping & batching ──────────────────────────── */

func TestDispatch_GroupsByTenant(t *testing.T) {
	push := &fakeSender{channel: entity.ChannelPush}
	e := newTestEngine(t, nil, nil, push)

	devices := []*entity.Device{
		device(1, "t1", entity.ChannelFlags{Push: true}),
		device(2, "t2", entity.ChannelFlags{Push: true}),
		device(3, "t1", entity.ChannelFlags{Push: true}),
	}
	_, err := e.Dispatch(context.Background(), devices, notifier.Message{}, Options{})
	require.NoError(t, err)

	tenants := append([]string(nil), push.tenants...)
	sort.Strings(tenants)
	assert.Equal(t, []string{"t1", "t2"}, tenants)
	sizes := append([]int(nil), push.sizes...)
	sort.Ints(sizes)
	assert.Equal(t, []int{1, 2}, sizes)
}

func TestDispatch_DynamicBatchSize(t *testing.T) {
	push := &fakeSender{channel: entity.ChannelPush}
	e := newTestEngine(t, nil, nil, push)

	devices := make([]*entity.Device, 0, 1200)
	for i := int64(1); i <= 1200; i++ {
		devices = append(devices, device(i, "t1", entity.ChannelFlags{Push: true}))
	}
	res, err := e.Dispatch(context.Background(), devices, notifier.Message{}, Options{})
	require.NoError(t, err)

	assert.Len(t, res.Outcomes, 1200)
	sizes := append([]int(nil), push.sizes...)
	sort.Ints(sizes)
	assert.Equal(t, []int{200, 1000}, sizes)
}

func TestDispatch_PolicyBatchSizeFromStore(t *testing.T) {
	push := &fakeSender{channel: entity.ChannelPush}
	e := newTestEngine(t, nil, &fakePolicies{rows: []*entity.ChannelPolicy{
		policyWith(entity.ChannelPush, func(p *entity.ChannelPolicy) { p.BatchSize = 100 }),
		// invalid rows are ignored
		policyWith(entity.ChannelWeb, func(p *entity.ChannelPolicy) { p.Retry.BackoffMultiplier = 1.0 }),
	}}, push)

	devices := make([]*entity.Device, 0, 250)
	for i := int64(1); i <= 250; i++ {
		devices = append(devices, device(i, "t1", entity.ChannelFlags{Push: true}))
	}
	_, err := e.Dispatch(context.Background(), devices, notifier.Message{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, push.callCount())
}

func TestDispatch_PolicyStoreErrorFallsBackToDefaults(t *testing.T) {
	push := &fakeSender{channel: entity.ChannelPush}
	e := newTestEngine(t, nil, &fakePolicies{err: errors.New("db down")}, push)

	res, err := e.Dispatch(context.Background(), []*entity.Device{device(1, "t1", entity.ChannelFlags{Push: true})},
		notifier.Message{}, Options{})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestBatchSize(t *testing.T) {
	tests := []struct {
		name      string
		policy    entity.ChannelPolicy
		groupSize int
		want      int
	}{
		{"small group", entity.ChannelPolicy{}, 10, 500},
		{"exactly 1000", entity.ChannelPolicy{}, 1000, 500},
		{"medium group", entity.ChannelPolicy{}, 1001, 1000},
		{"exactly 5000", entity.ChannelPolicy{}, 5000, 1000},
		{"bulk group", entity.ChannelPolicy{}, 5001, 2000},
		{"explicit policy", entity.ChannelPolicy{BatchSize: 50}, 10000, 50},
		{"capped by recipients", entity.ChannelPolicy{MaxRecipientsPerRequest: 300}, 10000, 300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BatchSize(tt.policy, tt.groupSize))
		})
	}
}

func TestSplit(t *testing.T) {
	devices := make([]*entity.Device, 5)
	assert.Len(t, split(devices, 2), 3)
	assert.Len(t, split(devices, 5), 1)
	assert.Nil(t, split(nil, 5))
}

/* ──────────────────────────── 4. Log sink & health ──────────────────────────── */

func TestDispatch_WriteLogOff(t *testing.T) {
	push := &fakeSender{channel: entity.ChannelPush}
	sink := &fakeSink{}
	e := newTestEngine(t, sink, nil, push)

	jobID := int64(7)
	res, err := e.Dispatch(context.Background(), []*entity.Device{device(1, "t1", entity.ChannelFlags{Push: true})},
		notifier.Message{}, Options{WriteLog: false, Source: entity.SourceJob, JobID: &jobID})
	require.NoError(t, err)

	assert.Equal(t, 0, sink.calls)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, entity.SourceJob, res.Outcomes[0].Source)
	assert.Equal(t, &jobID, res.Outcomes[0].JobID)
}

func TestChannelHealth(t *testing.T) {
	push, _, _, _ := allSenders()
	push.err = errors.New("unavailable")
	e := newTestEngine(t, nil, nil, push)

	_, err := e.Dispatch(context.Background(), []*entity.Device{device(1, "t1", entity.ChannelFlags{Push: true})},
		notifier.Message{}, Options{})
	require.NoError(t, err)

	health := e.ChannelHealth()
	require.Len(t, health, 4)
	assert.Equal(t, entity.ChannelPush, health[0].Channel)
	assert.True(t, health[0].Enabled)
	assert.Equal(t, 1, health[0].ConsecutiveFailures)
	assert.Equal(t, "unavailable", health[0].LastError)
	require.NotNil(t, health[0].LastFailureAt)
	assert.Equal(t, "closed", health[0].CircuitState)
	assert.False(t, health[1].Enabled)
}

func policyWith(ch entity.ChannelType, mutate func(*entity.ChannelPolicy)) *entity.ChannelPolicy {
	p := entity.DefaultPolicy(ch)
	mutate(&p)
	return &p
}
