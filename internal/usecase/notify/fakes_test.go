package notify

import (
	"context"
	"sync"

	"notifyhub/internal/domain/entity"
	"notifyhub/internal/infra/notifier"
	"notifyhub/internal/repository"
	"notifyhub/internal/usecase/dispatch"
)

type fakeDevices struct {
	byID     map[int64]*entity.Device
	groups   map[string][]*entity.Device
	active   []*entity.Device
	count    int
	countErr error
}

func (f *fakeDevices) Get(_ context.Context, id int64) (*entity.Device, error) { return f.byID[id], nil }

func (f *fakeDevices) ListByIDs(_ context.Context, _ string, ids []int64) ([]*entity.Device, error) {
	var out []*entity.Device
	for _, id := range ids {
		if d, ok := f.byID[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDevices) ListByGroup(_ context.Context, _ string, group string) ([]*entity.Device, error) {
	return f.groups[group], nil
}

func (f *fakeDevices) ListActive(context.Context, string) ([]*entity.Device, error) { return f.active, nil }

func (f *fakeDevices) CountByGroup(context.Context, string, string) (int, error) { return f.count, f.countErr }

func (f *fakeDevices) CountActive(context.Context, string) (int, error) { return f.count, f.countErr }

func (f *fakeDevices) FindActive(context.Context, string, string) (*entity.Device, error) { return nil, nil }

func (f *fakeDevices) Deactivate(context.Context, int64) error { return nil }

func (f *fakeDevices) Create(context.Context, *entity.Device) error { return nil }

func (f *fakeDevices) WithinTx(_ context.Context, fn func(repository.DeviceRepository) error) error {
	return fn(f)
}

type fakeTemplates struct {
	byID   map[int64]*entity.Template
	byCode map[string][]*entity.Template // key: code|locale
}

func (f *fakeTemplates) Get(_ context.Context, id int64) (*entity.Template, error) {
	return f.byID[id], nil
}

func (f *fakeTemplates) ListByCode(_ context.Context, _ string, code, locale string) ([]*entity.Template, error) {
	return f.byCode[code+"|"+locale], nil
}

type fakeDispatcher struct {
	mu      sync.Mutex
	calls   int
	devices []*entity.Device
	msg     notifier.Message
	opts    dispatch.Options
	result  *dispatch.Result
	err     error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, devices []*entity.Device, msg notifier.Message, opts dispatch.Options) (*dispatch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.devices = devices
	f.msg = msg
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &dispatch.Result{Success: true, Message: "Notification sent to 1 devices."}, nil
}

type fakeQueue struct {
	mu    sync.Mutex
	items []entity.DispatchRequest
	err   error
}

func (f *fakeQueue) Enqueue(_ context.Context, req entity.DispatchRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.items = append(f.items, req)
	return "item-1", nil
}
