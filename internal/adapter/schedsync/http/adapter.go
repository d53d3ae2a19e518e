// Package http adapts the scheduler HTTP client to the schedsync port,
// translating permanent API rejections into schedsync.ErrRejected so the
// orchestrator can tell business failures from infrastructure trouble.
package http

import (
	"context"
	"fmt"

	"github.com/sellerwatch/crawl-cloud/internal/domain/schedsync"
	"github.com/sellerwatch/crawl-cloud/pkg/schedclient"
)

type Adapter struct {
	client *schedclient.Client
}

func NewAdapter(client *schedclient.Client) *Adapter {
	return &Adapter{client: client}
}

func (a *Adapter) CreateRule(ctx context.Context, correlationID, name, cadence string, target schedsync.RuleTarget) error {
	err := a.client.CreateRule(ctx, correlationID, name, cadence, toClientTarget(target))
	return classify(err)
}

func (a *Adapter) UpdateRule(ctx context.Context, correlationID, name, cadence string, target schedsync.RuleTarget, state schedsync.RuleState) error {
	err := a.client.UpdateRule(ctx, correlationID, name, cadence, toClientTarget(target), string(state))
	return classify(err)
}

func (a *Adapter) DisableRule(ctx context.Context, correlationID, name string) error {
	return classify(a.client.DisableRule(ctx, correlationID, name))
}

func toClientTarget(t schedsync.RuleTarget) schedclient.RuleTarget {
	return schedclient.RuleTarget{QueueURL: t.QueueURL, SellerID: t.SellerID}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if schedclient.Permanent(err) {
		return fmt.Errorf("%w: %v", schedsync.ErrRejected, err)
	}
	return err
}
