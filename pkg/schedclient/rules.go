package schedclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Rule is a scheduled rule as the scheduling service reports it.
type Rule struct {
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	State    string     `json:"state"`
	Target   RuleTarget `json:"target"`
}

type RuleTarget struct {
	QueueURL string `json:"queue_url"`
	SellerID int64  `json:"seller_id,string"`
}

type upsertRuleRequest struct {
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	State    string     `json:"state,omitempty"`
	Target   RuleTarget `json:"target"`
}

// CreateRule registers a new scheduled rule. idempotencyKey dedupes retried
// creates on the service side.
func (c *Client) CreateRule(ctx context.Context, idempotencyKey, name, scheduleExpr string, target RuleTarget) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body := upsertRuleRequest{Name: name, Schedule: scheduleExpr, Target: target}
	err := c.retry.Do(ctx, func() error {
		return c.breaker.Execute(func() error {
			return c.doRequest(ctx, http.MethodPost, "/v1/rules", idempotencyKey, body, nil)
		})
	})
	if err != nil {
		return err
	}

	c.cache.Invalidate("rule:" + name)
	return nil
}

// UpdateRule replaces the schedule, target and state of an existing rule.
func (c *Client) UpdateRule(ctx context.Context, idempotencyKey, name, scheduleExpr string, target RuleTarget, state string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body := upsertRuleRequest{Name: name, Schedule: scheduleExpr, State: state, Target: target}
	err := c.retry.Do(ctx, func() error {
		return c.breaker.Execute(func() error {
			return c.doRequest(ctx, http.MethodPut, "/v1/rules/"+url.PathEscape(name), idempotencyKey, body, nil)
		})
	})
	if err != nil {
		return err
	}

	c.cache.Invalidate("rule:" + name)
	return nil
}

// DisableRule stops a rule from firing without deleting it.
func (c *Client) DisableRule(ctx context.Context, idempotencyKey, name string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	err := c.retry.Do(ctx, func() error {
		return c.breaker.Execute(func() error {
			return c.doRequest(ctx, http.MethodPost, "/v1/rules/"+url.PathEscape(name)+"/disable", idempotencyKey, nil, nil)
		})
	})
	if err != nil {
		return err
	}

	c.cache.Invalidate("rule:" + name)
	return nil
}

// GetRule reads a rule, served from cache within the TTL.
func (c *Client) GetRule(ctx context.Context, name string) (*Rule, error) {
	cacheKey := "rule:" + name
	if cached, ok := c.cache.Get(cacheKey); ok {
		if rule, ok := cached.(*Rule); ok {
			return rule, nil
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var wrapper ResponseWrapper[Rule]
	err := c.retry.Do(ctx, func() error {
		return c.breaker.Execute(func() error {
			return c.doRequest(ctx, http.MethodGet, "/v1/rules/"+url.PathEscape(name), "", nil, &wrapper)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get rule %s: %w", name, err)
	}

	rule := wrapper.Data
	c.cache.Set(cacheKey, &rule)
	return &rule, nil
}
