package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"beacon/internal/constants"
	"beacon/internal/logger"
	"beacon/internal/rules"
	"beacon/pkg/circuitbreaker"
	"beacon/pkg/models"
)

// ActionRunner executes a single action kind against a stimulus.
type ActionRunner interface {
	Run(ctx context.Context, action rules.ActionSpec, stim models.Stimulus) error
}

type RunnerRegistry map[rules.ActionKind]ActionRunner

// NewRunnerRegistry wires the default runner for every action kind. The
// webhook runner is the only one with external side effects; the rest write
// to the tenant's own state through the provided sink.
func NewRunnerRegistry(sink StateSink, cbCfg circuitbreaker.Config, log logger.Logger) RunnerRegistry {
	return RunnerRegistry{
		rules.ActionKindWebhook:     NewWebhookRunner(cbCfg),
		rules.ActionKindEmail:       &emailRunner{logger: log},
		rules.ActionKindTag:         &tagRunner{sink: sink},
		rules.ActionKindScoreAdjust: &scoreAdjustRunner{sink: sink},
		rules.ActionKindFieldUpdate: &fieldUpdateRunner{sink: sink},
	}
}

// StateSink applies tenant-state mutations produced by tag, score and field
// actions.
type StateSink interface {
	ApplyTag(ctx context.Context, tenantID, tag string, remove bool) error
	AdjustScore(ctx context.Context, tenantID, metric string, delta float64) error
	SetField(ctx context.Context, tenantID, field string, value interface{}) error
}

type WebhookRunner struct {
	client *http.Client
	cb     *circuitbreaker.Wrapper
}

func NewWebhookRunner(cbCfg circuitbreaker.Config) *WebhookRunner {
	return &WebhookRunner{
		client: &http.Client{
			Timeout: constants.DefaultHTTPTimeout,
		},
		cb: circuitbreaker.NewWrapper(cbCfg),
	}
}

func (r *WebhookRunner) Run(ctx context.Context, action rules.ActionSpec, stim models.Stimulus) error {
	cfg := action.Webhook
	if cfg == nil {
		return fmt.Errorf("webhook config missing")
	}

	_, err := r.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, r.deliver(ctx, cfg, stim)
	})

	r.cb.RecordRequest(err == nil)

	if err != nil {
		if r.cb.IsOpen() {
			return fmt.Errorf("webhook circuit breaker is open: %w", err)
		}
		return err
	}
	return nil
}

func (r *WebhookRunner) deliver(ctx context.Context, cfg *rules.WebhookConfig, stim models.Stimulus) error {
	body, err := json.Marshal(stim)
	if err != nil {
		return fmt.Errorf("failed to marshal stimulus: %w", err)
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}

	if cfg.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < constants.HTTPStatusOKMin || resp.StatusCode >= constants.HTTPStatusOKMax {
		return fmt.Errorf("webhook returned status: %d", resp.StatusCode)
	}

	return nil
}

type emailRunner struct {
	logger logger.Logger
}

func (r *emailRunner) Run(ctx context.Context, action rules.ActionSpec, stim models.Stimulus) error {
	cfg := action.Email
	if cfg == nil {
		return fmt.Errorf("email config missing")
	}

	// Email delivery goes through the notification topic downstream; here we
	// only record the send intent.
	r.logger.InfowCtx(ctx, "Email action queued",
		"template", cfg.Template,
		"recipient", cfg.Recipient,
	)
	return nil
}

type tagRunner struct {
	sink StateSink
}

func (r *tagRunner) Run(ctx context.Context, action rules.ActionSpec, stim models.Stimulus) error {
	cfg := action.Tag
	if cfg == nil {
		return fmt.Errorf("tag config missing")
	}
	return r.sink.ApplyTag(ctx, stim.TenantID, cfg.Tag, cfg.Remove)
}

type scoreAdjustRunner struct {
	sink StateSink
}

func (r *scoreAdjustRunner) Run(ctx context.Context, action rules.ActionSpec, stim models.Stimulus) error {
	cfg := action.ScoreAdjust
	if cfg == nil {
		return fmt.Errorf("score_adjust config missing")
	}
	return r.sink.AdjustScore(ctx, stim.TenantID, cfg.Metric, cfg.Delta)
}

type fieldUpdateRunner struct {
	sink StateSink
}

func (r *fieldUpdateRunner) Run(ctx context.Context, action rules.ActionSpec, stim models.Stimulus) error {
	cfg := action.FieldUpdate
	if cfg == nil {
		return fmt.Errorf("field_update config missing")
	}
	return r.sink.SetField(ctx, stim.TenantID, cfg.Field, cfg.Value)
}
