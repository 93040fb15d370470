package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/frobware/go-saiagent/sai"
)

// instrumentedAPI counts and times every call to the wrapped adapter.
type instrumentedAPI struct {
	api sai.API
	m   *Metrics
}

// Instrument wraps api so that every adapter call is recorded.
func (m *Metrics) Instrument(api sai.API) sai.API {
	return &instrumentedAPI{api: api, m: m}
}

func statusLabel(err error) string {
	if err == nil {
		return sai.StatusSuccess.String()
	}
	var sdkErr *sai.SdkError
	if errors.As(err, &sdkErr) {
		return sdkErr.Status.String()
	}
	return "ERROR"
}

func (a *instrumentedAPI) observe(op string, t sai.ObjectType, start time.Time, err error) {
	ot := t.String()
	a.m.sdkCalls.WithLabelValues(op, ot, statusLabel(err)).Inc()
	a.m.sdkDuration.WithLabelValues(op, ot).Observe(time.Since(start).Seconds())
}

func (a *instrumentedAPI) Create(ctx context.Context, t sai.ObjectType, switchID sai.ObjectID, attrs sai.AttributeList) (sai.ObjectID, error) {
	start := time.Now()
	id, err := a.api.Create(ctx, t, switchID, attrs)
	a.observe("create", t, start, err)
	return id, err
}

func (a *instrumentedAPI) CreateEntry(ctx context.Context, t sai.ObjectType, key sai.AdapterKey, attrs sai.AttributeList) error {
	start := time.Now()
	err := a.api.CreateEntry(ctx, t, key, attrs)
	a.observe("create", t, start, err)
	return err
}

func (a *instrumentedAPI) Remove(ctx context.Context, t sai.ObjectType, key sai.AdapterKey) error {
	start := time.Now()
	err := a.api.Remove(ctx, t, key)
	a.observe("remove", t, start, err)
	return err
}

func (a *instrumentedAPI) GetAttributes(ctx context.Context, t sai.ObjectType, key sai.AdapterKey, ids ...sai.AttrID) (sai.AttributeList, error) {
	start := time.Now()
	attrs, err := a.api.GetAttributes(ctx, t, key, ids...)
	a.observe("get", t, start, err)
	return attrs, err
}

func (a *instrumentedAPI) SetAttribute(ctx context.Context, t sai.ObjectType, key sai.AdapterKey, attr sai.Attribute) error {
	start := time.Now()
	err := a.api.SetAttribute(ctx, t, key, attr)
	a.observe("set", t, start, err)
	return err
}

func (a *instrumentedAPI) ObjectKeys(ctx context.Context, t sai.ObjectType, switchID sai.ObjectID) ([]sai.AdapterKey, error) {
	start := time.Now()
	keys, err := a.api.ObjectKeys(ctx, t, switchID)
	a.observe("keys", t, start, err)
	return keys, err
}

func (a *instrumentedAPI) GetStats(ctx context.Context, t sai.ObjectType, key sai.AdapterKey, ids ...sai.StatID) ([]uint64, error) {
	start := time.Now()
	vals, err := a.api.GetStats(ctx, t, key, ids...)
	a.observe("stats", t, start, err)
	return vals, err
}

func (a *instrumentedAPI) IsAttributeSupported(t sai.ObjectType, id sai.AttrID) bool {
	return a.api.IsAttributeSupported(t, id)
}
