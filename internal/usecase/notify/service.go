// Package notify is the public dispatch entry point. It decides whether a
// request is delivered inline or handed to the ingest queue, resolves targets
// and content, and calls the dispatch engine.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"notifyhub/internal/domain/entity"
	"notifyhub/internal/infra/notifier"
	"notifyhub/internal/infra/queue"
	"notifyhub/internal/observability/logging"
	"notifyhub/internal/observability/metrics"
	"notifyhub/internal/observability/tracing"
	"notifyhub/internal/repository"
	"notifyhub/internal/usecase/dispatch"
)

// DefaultQueueThreshold is the largest fan-out delivered inline.
const DefaultQueueThreshold = 1000

// Dispatcher is the dispatch engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, devices []*entity.Device, msg notifier.Message, opts dispatch.Options) (*dispatch.Result, error)
}

// Enqueuer hands a request to the ingest queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, req entity.DispatchRequest) (string, error)
}

// Result is what the caller of Notify sees.
type Result struct {
	IsSuccess bool   `json:"isSuccess"`
	Message   string `json:"message"`
	Queued    bool   `json:"queued,omitempty"`
	QueueID   string `json:"queueId,omitempty"`
}

// Service implements Notify and Deliver.
type Service struct {
	devices   repository.DeviceRepository
	templates repository.TemplateRepository
	engine    Dispatcher
	queue     Enqueuer
	threshold int
	logger    *slog.Logger
}

// NewService creates a Service. queue may be nil, in which case every request
// is delivered inline.
func NewService(devices repository.DeviceRepository, templates repository.TemplateRepository, engine Dispatcher, q Enqueuer, threshold int, logger *slog.Logger) *Service {
	if threshold <= 0 {
		threshold = DefaultQueueThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		devices:   devices,
		templates: templates,
		engine:    engine,
		queue:     q,
		threshold: threshold,
		logger:    logger,
	}
}

// Notify validates req and either queues it (fan-out above the threshold) or delivers it now.
// Failures are reported in the Result, never as an error.
func (s *Service) Notify(ctx context.Context, req entity.DispatchRequest) Result {
	ctx, span := tracing.StartSpan(ctx, "notify.Notify", attribute.String("tenant_id", req.TenantID))
	defer span.End()
	logger := logging.WithTenant(logging.WithRequestID(ctx, s.logger), req.TenantID)
	if req.Source == "" {
		req.Source = entity.SourceExternal
	}

	if err := req.Validate(); err != nil {
		metrics.RecordRoute("rejected")
		return Result{IsSuccess: false, Message: err.Error()}
	}

	fanOut, err := s.EstimateFanOut(ctx, req)
	if err != nil {
		tracing.RecordError(span, err)
		metrics.RecordRoute("rejected")
		logger.Error("fan-out estimate failed", slog.Any("error", err))
		return Result{IsSuccess: false, Message: "Failed to resolve notification target."}
	}
	span.SetAttributes(attribute.Int("fan_out", fanOut))

	if fanOut > s.threshold && s.queue != nil {
		id, err := s.queue.Enqueue(ctx, req)
		if err != nil {
			metrics.RecordRoute("rejected")
			tracing.RecordError(span, err)
			logger.Error("enqueue failed", slog.Int("fan_out", fanOut), slog.Any("error", err))
			if errors.Is(err, queue.ErrQueueFull) {
				return Result{IsSuccess: false, Message: "Notification queue is full, try again later."}
			}
			return Result{IsSuccess: false, Message: "Failed to queue notification request."}
		}
		metrics.RecordRoute("queued")
		logger.Info("notification queued", slog.Int("fan_out", fanOut), slog.String("queue_id", id))
		return Result{IsSuccess: true, Message: "Notification request queued.", Queued: true, QueueID: id}
	}

	metrics.RecordRoute("inline")
	res, err := s.Deliver(ctx, req)
	if err != nil {
		tracing.RecordError(span, err)
		return Result{IsSuccess: false, Message: failureMessage(err)}
	}
	return Result{IsSuccess: res.Success, Message: res.Message}
}

// EstimateFanOut returns how many devices req targets before channel flags are applied.
func (s *Service) EstimateFanOut(ctx context.Context, req entity.DispatchRequest) (int, error) {
	switch {
	case len(req.Target.DeviceIDs) > 0:
		return len(req.Target.DeviceIDs), nil
	case req.Target.Group != "":
		return s.devices.CountByGroup(ctx, req.TenantID, req.Target.Group)
	default:
		return s.devices.CountActive(ctx, req.TenantID)
	}
}

// Deliver resolves devices and content and dispatches synchronously with outcome logging.
// The queue worker calls this for queued requests.
func (s *Service) Deliver(ctx context.Context, req entity.DispatchRequest) (*dispatch.Result, error) {
	devices, err := s.resolveDevices(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, ErrNoTargetDevices
	}
	devices = restrictChannels(devices, req.Channels)

	msg, err := s.resolveContent(ctx, req, devices)
	if err != nil {
		return nil, err
	}

	res, err := s.engine.Dispatch(ctx, devices, msg, dispatch.Options{
		WriteLog: true,
		Source:   req.Source,
		JobID:    req.JobID,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("notification delivered",
		slog.String("tenant_id", req.TenantID),
		slog.String("request_id", req.ID),
		slog.Bool("success", res.Success),
		slog.Int("devices", len(devices)))
	return res, nil
}

func (s *Service) resolveDevices(ctx context.Context, req entity.DispatchRequest) ([]*entity.Device, error) {
	var (
		devices []*entity.Device
		err     error
	)
	switch {
	case len(req.Target.DeviceIDs) > 0:
		devices, err = s.devices.ListByIDs(ctx, req.TenantID, req.Target.DeviceIDs)
	case req.Target.Group != "":
		devices, err = s.devices.ListByGroup(ctx, req.TenantID, req.Target.Group)
	default:
		devices, err = s.devices.ListActive(ctx, req.TenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve devices: %w", err)
	}
	return devices, nil
}

// ResolveTemplate picks the template for code. The locale is tried first, then
// the default locale; within a locale a template whose gateway matches wins,
// otherwise the first one is used.
func ResolveTemplate(ctx context.Context, repo repository.TemplateRepository, tenantID, code, locale, gateway string) (*entity.Template, error) {
	locales := []string{locale}
	if locale != entity.DefaultLocale {
		locales = append(locales, entity.DefaultLocale)
	}
	for _, loc := range locales {
		candidates, err := repo.ListByCode(ctx, tenantID, code, loc)
		if err != nil {
			return nil, fmt.Errorf("lookup template %q: %w", code, err)
		}
		if len(candidates) == 0 {
			continue
		}
		if gateway != "" {
			for _, t := range candidates {
				if t.Gateway == gateway {
					return t, nil
				}
			}
		}
		return candidates[0], nil
	}
	return nil, ErrTemplateNotFound
}

func (s *Service) resolveContent(ctx context.Context, req entity.DispatchRequest, devices []*entity.Device) (notifier.Message, error) {
	c := req.Content
	if c.Inline() {
		return notifier.Message{Title: c.Title, Body: c.Body, Data: c.Data}, nil
	}

	var tpl *entity.Template
	if c.TemplateID != nil {
		t, err := s.templates.Get(ctx, *c.TemplateID)
		if err != nil {
			return notifier.Message{}, fmt.Errorf("lookup template %d: %w", *c.TemplateID, err)
		}
		if t == nil || t.TenantID != req.TenantID {
			return notifier.Message{}, ErrTemplateNotFound
		}
		tpl = t
	} else {
		locale := strings.TrimSpace(c.Locale)
		if locale == "" && devices[0].Locale != "" {
			locale = devices[0].Locale
		}
		if locale == "" {
			locale = entity.DefaultLocale
		}
		t, err := ResolveTemplate(ctx, s.templates, req.TenantID, c.TemplateCode, locale, devices[0].Gateway)
		if err != nil {
			return notifier.Message{}, err
		}
		tpl = t
	}

	return MessageFromTemplate(tpl, c), nil
}

// MessageFromTemplate builds the message for tpl. Non-empty inline fields of c override the template.
func MessageFromTemplate(tpl *entity.Template, c entity.Content) notifier.Message {
	msg := notifier.Message{
		Title:  tpl.Title,
		Body:   tpl.Body,
		Extras: notifier.ExtrasFromTemplate(tpl),
	}
	if c.Title != "" {
		msg.Title = c.Title
	}
	if c.Body != "" {
		msg.Body = c.Body
	}
	if len(tpl.Data) > 0 || len(c.Data) > 0 {
		msg.Data = make(map[string]string, len(tpl.Data)+len(c.Data))
		for k, v := range tpl.Data {
			msg.Data[k] = v
		}
		for k, v := range c.Data {
			msg.Data[k] = v
		}
	}
	return msg
}

// restrictChannels masks device flags to the requested channels. The input
// devices are not modified.
func restrictChannels(devices []*entity.Device, channels []entity.ChannelType) []*entity.Device {
	if len(channels) == 0 {
		return devices
	}
	allowed := entity.ChannelFlags{}
	for _, ch := range channels {
		switch ch {
		case entity.ChannelPush:
			allowed.Push = true
		case entity.ChannelWeb:
			allowed.Web = true
		case entity.ChannelEmail:
			allowed.Email = true
		case entity.ChannelChat:
			allowed.Chat = true
		}
	}
	out := make([]*entity.Device, len(devices))
	for i, d := range devices {
		cp := *d
		cp.Channels = entity.ChannelFlags{
			Push:  d.Channels.Push && allowed.Push,
			Web:   d.Channels.Web && allowed.Web,
			Email: d.Channels.Email && allowed.Email,
			Chat:  d.Channels.Chat && allowed.Chat,
		}
		out[i] = &cp
	}
	return out
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, ErrNoTargetDevices), errors.Is(err, dispatch.ErrNoEligibleDevices):
		return "No target devices found for notification."
	case errors.Is(err, ErrTemplateNotFound):
		return "Notification message template not found."
	}
	return "Notification delivery failed."
}
